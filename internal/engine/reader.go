package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/protocol"
)

// supervise runs the decoder on conn and, when the connection drops, fails
// everything tied to it and redials if configured.
func (e *Engine) supervise(conn pixelnet.Transport) {
	defer e.supervisor.Done()

	for {
		err := e.readLoop(conn)
		if e.ctx.Err() != nil {
			return
		}

		fields := []zap.Field{zap.Error(err)}
		var ce *pixelnet.CloseError
		if errors.As(err, &ce) {
			fields = append(fields, zap.Int("code", ce.Code), zap.String("reason", pixelnet.CloseReason(ce.Code)))
		}
		e.logger.Warn("connection lost", fields...)

		e.connectionLost(conn)
		if !e.opts.Reconnect.Enabled {
			e.giveUp()
			return
		}
		if conn = e.reconnect(); conn == nil {
			if e.ctx.Err() == nil {
				e.giveUp()
			}
			return
		}
	}
}

// connectionLost detaches conn, drops the unsent buffer and fails every
// result still outstanding on it.
func (e *Engine) connectionLost(conn pixelnet.Transport) {
	// Submissions keep queueing while a reconnect is coming.
	state := pixelnet.StateDisconnected
	if e.opts.Reconnect.Enabled {
		state = pixelnet.StateReconnecting
	}
	e.connMu.Lock()
	if e.conn == conn {
		e.conn = nil
	}
	e.state = state
	e.connMu.Unlock()
	e.metrics.SetConnectionState(state)

	if err := conn.Close(); err != nil {
		e.logger.Debug("transport close", zap.Error(err))
	}

	dropped := len(e.sched.Reset())
	failed := e.corr.FailAll(pixelnet.ErrConnectionLost)
	e.metrics.LocalFailures("connection_lost", failed)
	e.metrics.SetPendingResults(0)

	e.logger.Info("outstanding work failed",
		zap.Int("failed_results", failed),
		zap.Int("dropped_bytes", dropped),
	)
}

// giveUp fails the queued batches once no connection will come back.
func (e *Engine) giveUp() {
	if n := e.failQueue(pixelnet.ErrConnectionLost, false); n > 0 {
		e.logger.Warn("queued batches failed", zap.Int("batches", n))
	}
}

// reconnect redials up to the configured number of attempts. It returns nil
// when every attempt failed or the engine is closing.
func (e *Engine) reconnect() pixelnet.Transport {
	attempts := e.opts.Reconnect.MaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		timer := time.NewTimer(e.opts.Reconnect.Delay)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := e.dialer.Dial(e.ctx)
		if err != nil {
			e.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Error(err),
			)
			continue
		}

		e.connMu.Lock()
		if e.ctx.Err() != nil {
			e.connMu.Unlock()
			_ = conn.Close()
			return nil
		}
		e.conn = conn
		e.state = pixelnet.StateConnected
		e.connMu.Unlock()

		e.metrics.SetConnectionState(pixelnet.StateConnected)
		e.metrics.Reconnect()
		e.logger.Info("reconnected", zap.Int("attempt", attempt))
		return conn
	}

	e.setState(pixelnet.StateDisconnected)
	e.logger.Error("reconnect gave up", zap.Int("attempts", attempts))
	return nil
}

// readLoop decodes inbound frames until the transport fails. Each frame is
// decoded to the end before the next read.
func (e *Engine) readLoop(conn pixelnet.Transport) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != pixelnet.BinaryMessage {
			e.logger.Debug("ignoring non-binary message", zap.Int("bytes", len(data)))
			continue
		}

		tail, err := protocol.Decode(data, e.handleEvent)
		if err != nil {
			e.metrics.ProtocolError()
			e.logger.Warn("inbound frame not fully decoded", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if tail > 0 {
			e.logger.Debug("truncated message at end of frame",
				zap.Int("bytes", tail),
				zap.Error(pixelnet.ErrIncompleteFrame),
			)
		}
	}
}

// handleEvent never blocks: heartbeat replies and board updates are handed
// off through buffered channels.
func (e *Engine) handleEvent(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventHeartbeat:
		select {
		case e.control <- struct{}{}:
		default:
			e.logger.Warn("heartbeat reply backlog full, probe dropped")
		}

	case protocol.EventPaintResult:
		if !e.corr.Resolve(ev.PaintID, ev.Status) {
			e.logger.Debug("result for unknown paint id",
				zap.Uint32("paint_id", ev.PaintID),
				zap.Stringer("status", ev.Status),
			)
			return
		}
		if ev.Status.OK() && e.opts.RefreshCooldownOnSuccess {
			e.gate.Record(e.clock.Now())
		}

	case protocol.EventBoardUpdate:
		if e.updates == nil {
			e.metrics.BoardUpdate(false)
			return
		}
		select {
		case e.updates <- ev.Update:
			e.metrics.BoardUpdate(false)
		default:
			e.metrics.BoardUpdate(true)
		}
	}
}

// observerLoop calls the observer off the decoder goroutine.
func (e *Engine) observerLoop() {
	defer e.loops.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case u := <-e.updates:
			e.opts.Observer.OnBoardUpdate(u)
		}
	}
}
