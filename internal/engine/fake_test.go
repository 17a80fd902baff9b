package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/protocol"
)

type message struct {
	mt   pixelnet.MessageType
	data []byte
	err  error
}

// fakeTransport is an in-memory pixelnet.Transport. Messages pushed to it are
// returned by ReadMessage; writes are recorded.
type fakeTransport struct {
	inbound chan message
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	reply    func(frame []byte) []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan message, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (pixelnet.MessageType, []byte, error) {
	select {
	case m := <-f.inbound:
		return m.mt, m.data, m.err
	case <-f.closed:
		return 0, nil, fmt.Errorf("%w: use of closed connection", pixelnet.ErrTransport)
	}
}

func (f *fakeTransport) WriteMessage(mt pixelnet.MessageType, data []byte) error {
	select {
	case <-f.closed:
		return fmt.Errorf("%w: %w", pixelnet.ErrTransport, pixelnet.ErrClosed)
	default:
	}

	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.writes = append(f.writes, bytes.Clone(data))
	reply := f.reply
	f.mu.Unlock()

	if reply != nil {
		if out := reply(data); out != nil {
			f.push(out)
		}
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// push delivers a binary frame to the reader.
func (f *fakeTransport) push(frame []byte) {
	select {
	case f.inbound <- message{mt: pixelnet.BinaryMessage, data: frame}:
	case <-f.closed:
	}
}

// fail makes the pending read return err.
func (f *fakeTransport) fail(err error) {
	select {
	case f.inbound <- message{err: err}:
	case <-f.closed:
	}
}

func (f *fakeTransport) setReply(reply func(frame []byte) []byte) {
	f.mu.Lock()
	f.reply = reply
	f.mu.Unlock()
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// paintFrames returns the written frames that carry paint packets.
func (f *fakeTransport) paintFrames() [][]byte {
	var out [][]byte
	for _, w := range f.written() {
		if len(w) >= pixelnet.PacketSize && w[0] == pixelnet.OpPaint {
			out = append(out, w)
		}
	}
	return out
}

// paintIDs returns every paint id written so far, in wire order.
func (f *fakeTransport) paintIDs() []uint32 {
	var ids []uint32
	for _, frame := range f.paintFrames() {
		ids = append(ids, protocol.PaintIDs(frame)...)
	}
	return ids
}

// replyWith answers every paint frame with status for each packet.
func replyWith(status pixelnet.Status) func([]byte) []byte {
	return func(frame []byte) []byte {
		if len(frame) < pixelnet.PacketSize || frame[0] != pixelnet.OpPaint {
			return nil
		}
		var out []byte
		for _, id := range protocol.PaintIDs(frame) {
			out = protocol.AppendPaintResult(out, id, status)
		}
		return out
	}
}

type fakeTokenSource struct {
	mu    sync.Mutex
	calls [][]pixelnet.Credential
	err   error
}

func (s *fakeTokenSource) FetchAll(_ context.Context, creds []pixelnet.Credential) ([]pixelnet.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, append([]pixelnet.Credential(nil), creds...))
	if s.err != nil {
		return nil, s.err
	}
	return makeTokens(len(creds)), nil
}

func (s *fakeTokenSource) lastCall() []pixelnet.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

func makeTokens(n int) []pixelnet.Token {
	tokens := make([]pixelnet.Token, n)
	for i := range tokens {
		b := make([]byte, pixelnet.TokenSize)
		for j := range b {
			b[j] = byte(i + 1)
		}
		tokens[i] = pixelnet.Token{AccountID: uint32(1000 + i), Bytes: b}
	}
	return tokens
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Cooldown = 0
	opts.FrameInterval = 2 * time.Millisecond
	opts.DispatchPoll = time.Millisecond
	opts.SweepInterval = 5 * time.Millisecond
	return opts
}

// startEngine starts an engine over tr and closes it when the test ends.
func startEngine(t *testing.T, tr pixelnet.Transport, tokens []pixelnet.Token, mutate func(*Options)) *Engine {
	t.Helper()

	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(pixelnet.DialerFunc(func(context.Context) (pixelnet.Transport, error) {
		return tr, nil
	}), tokens, opts)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.Close(ctx))
	})
	return e
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitDispatched(t *testing.T, b pixelnet.Batch) {
	t.Helper()
	select {
	case <-b.Dispatched():
	case <-time.After(5 * time.Second):
		t.Fatalf("batch %s never dispatched", b.ID())
	}
}

func pixelsAt(n int) []pixelnet.PixelEdit {
	px := make([]pixelnet.PixelEdit, n)
	for i := range px {
		px[i] = pixelnet.PixelEdit{X: i, Y: 7, R: uint8(i), G: 2, B: 3}
	}
	return px
}
