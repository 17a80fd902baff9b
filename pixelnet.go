package pixelnet

import "context"

// Engine defines the client-side dispatch engine for a shared pixel board.
//
// An Engine owns one persistent connection. Pixel edits submitted to it are
// grouped into batches, released one batch per cooldown window, authenticated
// with tokens drawn round-robin from the token pool, encoded into 31-byte paint
// packets and coalesced into size-bounded binary frames.
//
// Example usage:
//
//	import "github.com/luciancaetano/pixelnet/ws"
//
//	engine, err := ws.New(ws.NewDialer(url, pixelnet.ModeReadWrite), tokens, ws.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Close(context.Background())
//
//	result, err := engine.PaintBatch(ctx, []pixelnet.PixelEdit{{X: 10, Y: 20, R: 255}})
type Engine interface {
	// Start dials the transport and launches the decoder, dispatcher, sender
	// and sweeper loops.
	//
	// Returns an error if the engine was already started or closed, or if the
	// first dial fails.
	Start(ctx context.Context) error

	// Submit validates pixels and appends them to the submission queue as one
	// batch. It does not wait for the batch to be dispatched.
	//
	// Pixels outside the board are rejected individually and show up as failed
	// results in the batch. A batch larger than the effective batch size is
	// rejected as a whole with a *CapacityError.
	Submit(ctx context.Context, pixels []PixelEdit) (Batch, error)

	// PaintBatch submits pixels and waits until every pixel has a result.
	PaintBatch(ctx context.Context, pixels []PixelEdit) (BatchResult, error)

	// Draw plans a raster onto the board and submits it batch by batch.
	//
	// Each batch is submitted only after the previous one was dispatched, so a
	// draw never floods the submission queue. Progress is reported after every
	// dispatched batch. Draw returns early, without error, if CancelDraw is
	// called; batches already queued are left to drain.
	Draw(ctx context.Context, raster Raster, placement Placement, progress ProgressFunc) (DrawSummary, error)

	// CancelDraw stops the image draw in progress, if any.
	CancelDraw()

	// RefreshTokens exchanges the configured credentials again and replaces
	// the whole token pool. The effective batch size is recomputed.
	RefreshTokens(ctx context.Context) error

	// AddCredential registers a credential that is used by the next refresh.
	AddCredential(cred Credential)

	// Stats returns a point-in-time view of the engine state.
	Stats() Stats

	// Close stops every loop, fails every pending result, clears the
	// submission queue and closes the transport, in that order.
	Close(ctx context.Context) error
}

// Batch is a handle to a group of pixel edits submitted together.
//
// Example:
//
//	batch, err := engine.Submit(ctx, pixels)
//	if err != nil {
//	    return err
//	}
//	<-batch.Dispatched()
//	result, err := batch.Wait(ctx)
type Batch interface {
	// ID returns a unique identifier for the batch.
	ID() string

	// State returns the current state of the batch.
	State() BatchState

	// Dispatched is closed once the batch leaves the queue, whether it was
	// handed to the sender or failed outright.
	Dispatched() <-chan struct{}

	// Wait blocks until every pixel of the batch has a result, the batch
	// failed, or ctx is done.
	Wait(ctx context.Context) (BatchResult, error)
}

// Transport is a duplex message stream over which frames are sent and inbound
// messages are received.
//
// Implementations are not required to support concurrent writers. The engine
// funnels every write through a single sender goroutine, and every read
// through a single decoder goroutine.
type Transport interface {
	// ReadMessage blocks until the next message arrives.
	//
	// Returns a *CloseError when the peer closed the connection.
	ReadMessage() (MessageType, []byte, error)

	// WriteMessage writes one message.
	WriteMessage(messageType MessageType, data []byte) error

	// Close closes the connection. Pending reads return an error.
	Close() error
}

// Dialer creates new transports. The engine dials once on Start and again for
// every reconnect attempt.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// Observer receives board updates broadcast by the server.
//
// OnBoardUpdate is called from a dedicated goroutine, never from the decoder,
// so a slow observer only causes updates to be dropped.
type Observer interface {
	OnBoardUpdate(update BoardUpdate)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(update BoardUpdate)

// OnBoardUpdate calls f(update).
func (f ObserverFunc) OnBoardUpdate(update BoardUpdate) {
	f(update)
}

// TokenSource exchanges access credentials for tokens.
//
// Implementations keep the tokens that were exchanged successfully, in
// credential order, and fail with ErrNoTokens when none was.
type TokenSource interface {
	FetchAll(ctx context.Context, creds []Credential) ([]Token, error)
}
