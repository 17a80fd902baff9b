// Package aggregate coalesces encoded paint packets into outbound frames,
// bounded by a frame size ceiling and a frame rate ceiling.
package aggregate

import (
	"sync"
	"time"

	"github.com/luciancaetano/pixelnet"
)

// Config holds the scheduler limits.
type Config struct {
	MaxFrameSize       int
	MaxFramesPerSecond int
}

// DefaultConfig returns the server limits.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:       pixelnet.MaxFrameSize,
		MaxFramesPerSecond: pixelnet.MaxFramesPerSecond,
	}
}

// Scheduler is an append-only outbound buffer that is taken whole on every
// flush.
//
// Append may be called from any goroutine. Flush must only be called by the
// single goroutine that owns the transport's write side.
type Scheduler struct {
	mu       sync.Mutex
	buf      []byte
	maxFrame int
	window   *Window
	closed   bool
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = pixelnet.MaxFrameSize
	}
	if cfg.MaxFramesPerSecond <= 0 {
		cfg.MaxFramesPerSecond = pixelnet.MaxFramesPerSecond
	}
	return &Scheduler{
		buf:      make([]byte, 0, cfg.MaxFrameSize),
		maxFrame: cfg.MaxFrameSize,
		window:   NewWindow(cfg.MaxFramesPerSecond, time.Second),
	}
}

// Append adds packets to the pending buffer. The bytes are copied.
func (s *Scheduler) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return pixelnet.ErrClosed
	}
	s.buf = append(s.buf, p...)
	return nil
}

// Fits reports whether n more bytes can be appended without the next frame
// exceeding the size ceiling.
func (s *Scheduler) Fits(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)+n <= s.maxFrame
}

// Flush sends the whole pending buffer as one frame through write.
//
// It returns nil without writing when the buffer is empty. When the rate
// window is exhausted it returns pixelnet.ErrRateLimited and leaves the buffer
// for a later flush. A buffer above the size ceiling is discarded and reported
// as a *pixelnet.FrameTooLargeError carrying the discarded bytes. A failed
// write puts the frame back at the head of the buffer.
func (s *Scheduler) Flush(now time.Time, write func([]byte) error) error {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return nil
	}
	if !s.window.Allow(now) {
		s.mu.Unlock()
		return pixelnet.ErrRateLimited
	}

	frame := s.buf
	s.buf = make([]byte, 0, s.maxFrame)
	if len(frame) > s.maxFrame {
		s.mu.Unlock()
		return &pixelnet.FrameTooLargeError{Size: len(frame), Limit: s.maxFrame, Frame: frame}
	}
	s.mu.Unlock()

	if err := write(frame); err != nil {
		s.mu.Lock()
		s.buf = append(frame, s.buf...)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.window.Record(now)
	s.mu.Unlock()
	return nil
}

// Len returns the number of buffered bytes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// FramesInWindow returns the number of frames sent in the second ending at now.
func (s *Scheduler) FramesInWindow(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Count(now)
}

// NextSlot returns the earliest time a frame may be flushed.
func (s *Scheduler) NextSlot(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Next(now)
}

// Reset drops the pending buffer and returns it.
func (s *Scheduler) Reset() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := s.buf
	s.buf = make([]byte, 0, s.maxFrame)
	return dropped
}

// Close rejects further appends. The pending buffer is returned and dropped.
func (s *Scheduler) Close() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	dropped := s.buf
	s.buf = nil
	return dropped
}

// MaxFrameSize returns the frame size ceiling.
func (s *Scheduler) MaxFrameSize() int {
	return s.maxFrame
}
