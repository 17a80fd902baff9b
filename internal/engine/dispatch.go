package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/protocol"
)

// dispatchLoop releases queued batches, one per cooldown window.
func (e *Engine) dispatchLoop() {
	defer e.loops.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := e.tryDispatch()
		switch {
		case wait == 0:
			continue
		case wait < 0:
			select {
			case <-e.ctx.Done():
				return
			case <-e.queueSignal:
			}
		default:
			timer.Reset(wait)
			select {
			case <-e.ctx.Done():
				return
			case <-timer.C:
			case <-e.queueSignal:
			}
		}
	}
}

// tryDispatch releases the head of the queue if nothing holds it back. It
// returns how long to wait before trying again: zero to retry immediately and
// a negative duration when the queue is empty.
func (e *Engine) tryDispatch() time.Duration {
	poll := e.opts.DispatchPoll

	e.queueMu.Lock()
	if len(e.queue) == 0 {
		e.queueMu.Unlock()
		return -1
	}
	head := e.queue[0]
	e.queueMu.Unlock()

	if e.State() != pixelnet.StateConnected {
		return poll
	}
	if remaining := e.gate.Remaining(); remaining > 0 {
		return min(remaining, poll)
	}
	if !e.sched.Fits(len(head.valid) * pixelnet.PacketSize) {
		return poll
	}

	e.queueMu.Lock()
	if len(e.queue) == 0 || e.queue[0] != head {
		e.queueMu.Unlock()
		return 0
	}
	e.queue[0] = nil
	e.queue = e.queue[1:]
	n := len(e.queue)
	e.queueMu.Unlock()
	e.metrics.SetQueueLength(n)

	e.dispatch(head)
	return 0
}

// dispatch assigns tokens, registers and encodes every valid pixel of b in
// input order and hands the packets to the scheduler as one contiguous run.
func (e *Engine) dispatch(b *batch) {
	now := e.clock.Now()

	tokens, err := e.pool.Assign(len(b.valid))
	if err != nil {
		e.logger.Warn("batch rejected by token pool",
			zap.String("batch_id", b.id),
			zap.Int("pixels", len(b.valid)),
			zap.Error(err),
		)
		b.fail(err)
		e.metrics.BatchFinished(pixelnet.BatchFailed)
		e.metrics.LocalFailures(failureReason(err), len(b.valid))
		return
	}

	packets := make([]byte, 0, len(b.valid)*pixelnet.PacketSize)
	ids := make([]uint32, 0, len(b.valid))
	var lastErr error
	for k, i := range b.valid {
		px := b.pixels[i]
		id, ch := e.corr.Register(px)
		b.attach(i, id, ch)

		packets, err = protocol.AppendPaint(packets, px, tokens[k], id)
		if err != nil {
			lastErr = err
			e.corr.Fail(id, err)
			e.logger.Warn("pixel not encoded",
				zap.String("batch_id", b.id),
				zap.Uint32("paint_id", id),
				zap.Uint32("account_id", tokens[k].AccountID),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		e.abandon(b, lastErr)
		return
	}
	if err := e.sched.Append(packets); err != nil {
		for _, id := range ids {
			e.corr.Fail(id, err)
		}
		e.abandon(b, err)
		return
	}

	e.gate.Record(now)
	b.markDispatched(now)
	e.metrics.PacketsEncoded(len(ids))

	e.logger.Debug("batch dispatched",
		zap.String("batch_id", b.id),
		zap.Int("packets", len(ids)),
		zap.Uint32("first_paint_id", ids[0]),
	)

	e.collectors.Add(1)
	go e.collect(b)
}

// abandon fails a batch whose pixels were all registered but none reached the
// scheduler. The registered entries were already failed, so drain them.
func (e *Engine) abandon(b *batch, err error) {
	for _, w := range b.pendingWaiters() {
		r := <-w.ch
		b.setResult(w.index, r)
	}
	b.fail(err)
	e.metrics.BatchFinished(pixelnet.BatchFailed)
	e.metrics.LocalFailures(failureReason(err), len(b.valid))
}

// collect waits for the result of every pixel of a dispatched batch.
func (e *Engine) collect(b *batch) {
	defer e.collectors.Done()

	var lost error
	for _, w := range b.pendingWaiters() {
		r := <-w.ch
		b.setResult(w.index, r)

		if r.Err != nil {
			if lost == nil && pixelnet.Orphaned(r.Err) {
				lost = r.Err
			}
			e.metrics.LocalFailures(failureReason(r.Err), 1)
			continue
		}
		latency := e.clock.Now().Sub(b.dispatchedAt).Seconds()
		e.metrics.Result(r.Status, latency)
		if !r.Status.Known() {
			e.logger.Warn("unknown paint status",
				zap.Uint32("paint_id", r.PaintID),
				zap.Uint8("status", uint8(r.Status)),
			)
		}
	}

	state := pixelnet.BatchResolved
	if lost != nil {
		state = pixelnet.BatchOrphaned
	}
	b.finish(state, lost)
	e.metrics.BatchFinished(state)

	if errors.Is(lost, pixelnet.ErrConnectionLost) {
		e.logger.Debug("batch orphaned", zap.String("batch_id", b.id))
	}
}
