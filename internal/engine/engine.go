// Package engine implements the dispatch pipeline behind pixelnet.Engine.
//
// One Engine owns one connection at a time and runs these goroutines around it:
//
//   - the supervisor, which runs the inbound decoder and handles connection loss
//   - the dispatcher, which releases one queued batch per cooldown window
//   - the sender, the only writer to the transport
//   - the sweeper, which expires results that never arrive
//   - the observer loop, when an Observer is configured
//
// Each dispatched batch also gets a short-lived collector that waits for the
// results of its pixels.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/aggregate"
	"github.com/luciancaetano/pixelnet/internal/clock"
	"github.com/luciancaetano/pixelnet/internal/cooldown"
	"github.com/luciancaetano/pixelnet/internal/correlator"
	"github.com/luciancaetano/pixelnet/internal/metrics"
	"github.com/luciancaetano/pixelnet/internal/token"
)

var _ pixelnet.Engine = (*Engine)(nil)

// controlBuffer bounds heartbeat replies waiting for the sender.
const controlBuffer = 16

// Engine is the dispatch engine. Create it with New.
type Engine struct {
	id      uuid.UUID
	opts    Options
	dialer  pixelnet.Dialer
	logger  *zap.Logger
	metrics *metrics.Collector
	clock   clock.Clock

	pool  *token.Pool
	gate  *cooldown.Gate
	sched *aggregate.Scheduler
	corr  *correlator.Correlator

	queueMu     sync.Mutex
	queue       []*batch
	queueClosed bool
	queueSignal chan struct{}

	// heartbeat replies for the sender
	control chan struct{}
	updates chan pixelnet.BoardUpdate

	connMu sync.RWMutex
	conn   pixelnet.Transport
	state  pixelnet.ConnState

	credMu sync.Mutex
	creds  []pixelnet.Credential

	drawMu     sync.Mutex
	drawCancel context.CancelFunc
	drawDone   atomic.Int64
	drawTotal  atomic.Int64

	lifeMu  sync.Mutex
	started bool
	closed  bool

	ctx        context.Context
	cancel     context.CancelFunc
	loops      sync.WaitGroup
	supervisor sync.WaitGroup
	collectors sync.WaitGroup

	rateLog      rate.Sometimes
	heartbeatLog rate.Sometimes
}

// New creates an engine that dials through dialer and paints with tokens.
// The engine is idle until Start.
func New(dialer pixelnet.Dialer, tokens []pixelnet.Token, opts Options) (*Engine, error) {
	if dialer == nil {
		return nil, errors.New("engine: nil dialer")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid options: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}

	e := &Engine{
		id:      uuid.New(),
		opts:    opts,
		dialer:  dialer,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		pool:    token.NewPool(opts.BatchSize, tokens),
		gate:    cooldown.New(opts.Cooldown, opts.Clock),
		sched: aggregate.New(aggregate.Config{
			MaxFrameSize:       opts.MaxFrameSize,
			MaxFramesPerSecond: opts.MaxFramesPerSecond,
		}),
		corr:         correlator.New(opts.ResultTTL, opts.Clock),
		queueSignal:  make(chan struct{}, 1),
		control:      make(chan struct{}, controlBuffer),
		creds:        slices.Clone(opts.Credentials),
		rateLog:      rate.Sometimes{First: 1, Interval: 5 * time.Second},
		heartbeatLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	e.logger = opts.Logger.With(zap.String("engine_id", e.id.String()))
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if opts.Observer != nil {
		e.updates = make(chan pixelnet.BoardUpdate, opts.ObserverBuffer)
	}

	e.metrics.SetTokenPoolSize(e.pool.Len())
	e.metrics.SetConnectionState(pixelnet.StateIdle)
	return e, nil
}

// ID returns the engine session id.
func (e *Engine) ID() string {
	return e.id.String()
}

// Start fills an empty token pool from the token source, dials the transport
// and launches the loops. The loops outlive ctx; stop them with Close.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.closed {
		return pixelnet.ErrClosed
	}
	if e.started {
		return pixelnet.ErrAlreadyStarted
	}

	if e.pool.Len() == 0 && e.opts.TokenSource != nil {
		if err := e.RefreshTokens(ctx); err != nil {
			return err
		}
	}

	conn, err := e.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("engine: dial: %w", err)
	}
	e.setConn(conn, pixelnet.StateConnected)
	e.started = true

	e.loops.Add(3)
	go e.dispatchLoop()
	go e.sendLoop()
	go e.sweepLoop()
	if e.updates != nil {
		e.loops.Add(1)
		go e.observerLoop()
	}
	e.supervisor.Add(1)
	go e.supervise(conn)

	e.logger.Info("engine started",
		zap.String("mode", string(e.opts.Mode)),
		zap.Int("tokens", e.pool.Len()),
		zap.Int("batch_size", e.pool.BatchSize()),
	)
	return nil
}

// Submit validates pixels and queues them as one batch.
func (e *Engine) Submit(ctx context.Context, pixels []pixelnet.PixelEdit) (pixelnet.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.isClosed() {
		return nil, pixelnet.ErrClosed
	}
	if e.opts.Mode == pixelnet.ModeReadOnly {
		return nil, pixelnet.ErrReadOnly
	}
	if len(pixels) == 0 {
		return nil, pixelnet.ErrEmptyBatch
	}

	limit := e.pool.BatchSize()
	if limit == 0 {
		return nil, pixelnet.ErrNoTokens
	}
	if len(pixels) > limit {
		return nil, &pixelnet.CapacityError{Size: len(pixels), Limit: limit}
	}
	if perFrame := e.opts.MaxFrameSize / pixelnet.PacketSize; len(pixels) > perFrame {
		return nil, &pixelnet.CapacityError{Size: len(pixels), Limit: perFrame}
	}

	switch e.State() {
	case pixelnet.StateConnected, pixelnet.StateReconnecting:
	default:
		return nil, pixelnet.ErrNotConnected
	}

	b := newBatch(pixels)
	invalid := len(pixels) - len(b.valid)
	e.metrics.LocalFailures("bounds", invalid)
	if len(b.valid) == 0 {
		b.fail(pixelnet.ErrBounds)
		e.metrics.BatchFinished(pixelnet.BatchFailed)
		return b, nil
	}

	e.queueMu.Lock()
	if e.queueClosed {
		e.queueMu.Unlock()
		return nil, pixelnet.ErrClosed
	}
	if e.opts.QueueCapacity > 0 && len(e.queue) >= e.opts.QueueCapacity {
		e.queueMu.Unlock()
		return nil, pixelnet.ErrQueueFull
	}
	b.setState(pixelnet.BatchQueued)
	e.queue = append(e.queue, b)
	n := len(e.queue)
	e.queueMu.Unlock()

	e.metrics.SetQueueLength(n)
	select {
	case e.queueSignal <- struct{}{}:
	default:
	}

	if invalid > 0 {
		e.logger.Debug("pixels outside the board rejected",
			zap.String("batch_id", b.id),
			zap.Int("rejected", invalid),
		)
	}
	return b, nil
}

// PaintBatch submits pixels and waits for every result.
func (e *Engine) PaintBatch(ctx context.Context, pixels []pixelnet.PixelEdit) (pixelnet.BatchResult, error) {
	b, err := e.Submit(ctx, pixels)
	if err != nil {
		return pixelnet.BatchResult{}, err
	}
	return b.Wait(ctx)
}

// RefreshTokens exchanges every known credential again and replaces the pool.
func (e *Engine) RefreshTokens(ctx context.Context) error {
	if e.opts.TokenSource == nil {
		return pixelnet.ErrNoTokenSource
	}

	e.credMu.Lock()
	creds := slices.Clone(e.creds)
	e.credMu.Unlock()
	if len(creds) == 0 {
		return fmt.Errorf("refresh tokens: no credentials: %w", pixelnet.ErrNoTokens)
	}

	tokens, err := e.opts.TokenSource.FetchAll(ctx, creds)
	if err != nil {
		return fmt.Errorf("refresh tokens: %w", err)
	}
	e.pool.Replace(tokens)
	e.metrics.SetTokenPoolSize(len(tokens))

	e.logger.Info("token pool refreshed",
		zap.Int("credentials", len(creds)),
		zap.Int("tokens", len(tokens)),
		zap.Int("batch_size", e.pool.BatchSize()),
	)
	return nil
}

// AddCredential registers cred for the next refresh.
func (e *Engine) AddCredential(cred pixelnet.Credential) {
	e.credMu.Lock()
	e.creds = append(e.creds, cred)
	e.credMu.Unlock()
}

// Stats returns a point-in-time view of the engine.
func (e *Engine) Stats() pixelnet.Stats {
	e.queueMu.Lock()
	queued := len(e.queue)
	e.queueMu.Unlock()

	e.drawMu.Lock()
	drawing := e.drawCancel != nil
	e.drawMu.Unlock()

	return pixelnet.Stats{
		State:          e.State(),
		QueueLength:    queued,
		PendingResults: e.corr.Len(),
		TokenCount:     e.pool.Len(),
		BatchSize:      e.pool.BatchSize(),
		FramesInWindow: e.sched.FramesInWindow(e.clock.Now()),
		BufferedBytes:  e.sched.Len(),
		Drawing:        drawing,
		DrawDone:       int(e.drawDone.Load()),
		DrawTotal:      int(e.drawTotal.Load()),
	}
}

// State returns the connection state.
func (e *Engine) State() pixelnet.ConnState {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	return e.state
}

// Close stops the loops, fails every pending result, clears the queue and
// closes the transport, in that order. Closing twice is a no-op.
func (e *Engine) Close(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return nil
	}
	e.closed = true
	started := e.started
	e.lifeMu.Unlock()

	e.CancelDraw()
	e.cancel()
	if err := waitGroup(ctx, &e.loops); err != nil {
		return fmt.Errorf("engine: stop loops: %w", err)
	}

	failed := e.corr.FailAll(pixelnet.ErrClosed)
	e.metrics.LocalFailures("closed", failed)
	e.failQueue(pixelnet.ErrClosed, true)
	e.sched.Close()

	e.connMu.Lock()
	conn := e.conn
	e.conn = nil
	e.state = pixelnet.StateClosed
	e.connMu.Unlock()
	e.metrics.SetConnectionState(pixelnet.StateClosed)

	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	if started {
		if err := waitGroup(ctx, &e.supervisor); err != nil {
			return fmt.Errorf("engine: stop decoder: %w", err)
		}
		if err := waitGroup(ctx, &e.collectors); err != nil {
			return fmt.Errorf("engine: collect results: %w", err)
		}
	}

	e.logger.Info("engine closed", zap.Int("failed_results", failed))
	if closeErr != nil {
		e.logger.Debug("transport close", zap.Error(closeErr))
	}
	return nil
}

func (e *Engine) isClosed() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.closed
}

func (e *Engine) setConn(conn pixelnet.Transport, state pixelnet.ConnState) {
	e.connMu.Lock()
	e.conn = conn
	e.state = state
	e.connMu.Unlock()
	e.metrics.SetConnectionState(state)
}

func (e *Engine) setState(state pixelnet.ConnState) {
	e.connMu.Lock()
	e.state = state
	e.connMu.Unlock()
	e.metrics.SetConnectionState(state)
}

// transport returns the live connection, or nil between connections.
func (e *Engine) transport() pixelnet.Transport {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	if e.state != pixelnet.StateConnected {
		return nil
	}
	return e.conn
}

// failQueue fails every queued batch with err. With closing set, later
// submissions are refused.
func (e *Engine) failQueue(err error, closing bool) int {
	e.queueMu.Lock()
	if closing {
		e.queueClosed = true
	}
	queued := e.queue
	e.queue = nil
	e.queueMu.Unlock()

	for _, b := range queued {
		b.fail(err)
		e.metrics.BatchFinished(pixelnet.BatchFailed)
		e.metrics.LocalFailures(failureReason(err), len(b.valid))
	}
	e.metrics.SetQueueLength(0)
	return len(queued)
}

// failureReason maps a local failure to a bounded metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, pixelnet.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, pixelnet.ErrClosed):
		return "closed"
	case errors.Is(err, pixelnet.ErrResultTimeout):
		return "timeout"
	case errors.Is(err, pixelnet.ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, pixelnet.ErrBounds):
		return "bounds"
	case errors.Is(err, pixelnet.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, pixelnet.ErrCapacity), errors.Is(err, pixelnet.ErrNoTokens):
		return "tokens"
	default:
		return "other"
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
