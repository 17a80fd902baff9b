package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/protocol"
)

// sendLoop is the only goroutine that writes to the transport. Heartbeat
// replies go out as soon as they are requested; paint packets go out on the
// frame tick.
func (e *Engine) sendLoop() {
	defer e.loops.Done()

	ticker := time.NewTicker(e.opts.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.control:
			e.replyHeartbeat()
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *Engine) replyHeartbeat() {
	conn := e.transport()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(pixelnet.BinaryMessage, protocol.HeartbeatReply); err != nil {
		e.logger.Warn("heartbeat reply failed", zap.Error(err))
		return
	}
	e.metrics.Heartbeat()
	e.heartbeatLog.Do(func() {
		e.logger.Debug("answering heartbeats")
	})
}

// flush sends the pending buffer as one frame, subject to the rate window.
func (e *Engine) flush() {
	conn := e.transport()
	if conn == nil {
		return
	}

	var size int
	err := e.sched.Flush(e.clock.Now(), func(frame []byte) error {
		size = len(frame)
		return conn.WriteMessage(pixelnet.BinaryMessage, frame)
	})

	var tooLarge *pixelnet.FrameTooLargeError
	switch {
	case err == nil:
		if size > 0 {
			e.metrics.FrameSent(size)
		}

	case errors.Is(err, pixelnet.ErrRateLimited):
		e.metrics.RateDeferred()
		e.rateLog.Do(func() {
			e.logger.Warn("frame rate window exhausted, deferring flush",
				zap.Int("buffered_bytes", e.sched.Len()),
				zap.Time("next_slot", e.sched.NextSlot(e.clock.Now())),
			)
		})

	case errors.As(err, &tooLarge):
		e.metrics.FrameTooLarge()
		reason := &pixelnet.FrameTooLargeError{Size: tooLarge.Size, Limit: tooLarge.Limit}
		failed := 0
		for _, id := range protocol.PaintIDs(tooLarge.Frame) {
			if e.corr.Fail(id, reason) {
				failed++
			}
		}
		e.logger.Error("frame dropped",
			zap.Int("bytes", tooLarge.Size),
			zap.Int("limit", tooLarge.Limit),
			zap.Int("failed_results", failed),
		)

	default:
		// The frame is back in the buffer. Closing the transport ends the
		// decoder, which reports the connection as lost.
		e.logger.Warn("frame write failed", zap.Int("bytes", size), zap.Error(err))
		if cerr := conn.Close(); cerr != nil {
			e.logger.Debug("transport close", zap.Error(cerr))
		}
	}
}

// sweepLoop expires overdue results and refreshes the gauges.
func (e *Engine) sweepLoop() {
	defer e.loops.Done()

	interval := e.opts.SweepInterval
	if interval <= 0 {
		interval = pixelnet.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	if n := e.corr.Sweep(e.clock.Now()); n > 0 {
		e.logger.Warn("paint results timed out",
			zap.Int("expired", n),
			zap.Duration("ttl", e.corr.TTL()),
		)
	}

	e.queueMu.Lock()
	queued := len(e.queue)
	e.queueMu.Unlock()

	e.metrics.SetQueueLength(queued)
	e.metrics.SetPendingResults(e.corr.Len())
	e.metrics.SetTokenPoolSize(e.pool.Len())
}
