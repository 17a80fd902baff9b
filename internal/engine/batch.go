package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luciancaetano/pixelnet"
)

// waiter ties one dispatched pixel to the channel its result arrives on.
type waiter struct {
	index int
	id    uint32
	ch    <-chan pixelnet.PaintResult
}

// batch implements pixelnet.Batch.
type batch struct {
	id     string
	pixels []pixelnet.PixelEdit
	// indices of the pixels that passed validation
	valid []int

	mu           sync.Mutex
	state        pixelnet.BatchState
	results      []pixelnet.PaintResult
	waiters      []waiter
	dispatchedAt time.Time
	err          error

	dispatched chan struct{}
	done       chan struct{}
}

// newBatch copies pixels and fails the out-of-bounds ones individually.
func newBatch(pixels []pixelnet.PixelEdit) *batch {
	b := &batch{
		id:         uuid.New().String(),
		pixels:     append([]pixelnet.PixelEdit(nil), pixels...),
		results:    make([]pixelnet.PaintResult, len(pixels)),
		valid:      make([]int, 0, len(pixels)),
		dispatched: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for i, px := range b.pixels {
		b.results[i].Pixel = px
		if err := px.Validate(); err != nil {
			b.results[i].Err = err
			continue
		}
		b.valid = append(b.valid, i)
	}
	return b
}

func (b *batch) ID() string {
	return b.id
}

func (b *batch) State() pixelnet.BatchState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *batch) Dispatched() <-chan struct{} {
	return b.dispatched
}

func (b *batch) Wait(ctx context.Context) (pixelnet.BatchResult, error) {
	select {
	case <-b.done:
		res := b.result()
		return res, res.Err
	case <-ctx.Done():
		return b.result(), ctx.Err()
	}
}

func (b *batch) result() pixelnet.BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	return pixelnet.BatchResult{
		ID:           b.id,
		State:        b.state,
		Results:      append([]pixelnet.PaintResult(nil), b.results...),
		DispatchedAt: b.dispatchedAt,
		Err:          b.err,
	}
}

func (b *batch) setState(s pixelnet.BatchState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// attach records the paint id of pixel index. A pixel that failed to encode
// still gets a waiter; its failure arrives on the channel like a result.
func (b *batch) attach(index int, id uint32, ch <-chan pixelnet.PaintResult) {
	b.mu.Lock()
	b.results[index].PaintID = id
	b.waiters = append(b.waiters, waiter{index: index, id: id, ch: ch})
	b.mu.Unlock()
}

// markDispatched moves the batch out of the queue.
func (b *batch) markDispatched(at time.Time) {
	b.mu.Lock()
	b.state = pixelnet.BatchDispatched
	b.dispatchedAt = at
	b.mu.Unlock()
	close(b.dispatched)
}

// fail ends a batch that never reached the wire.
func (b *batch) fail(err error) {
	b.mu.Lock()
	if b.state.Terminal() {
		b.mu.Unlock()
		return
	}
	wasDispatched := b.state == pixelnet.BatchDispatched
	b.state = pixelnet.BatchFailed
	b.err = err
	for _, i := range b.valid {
		if b.results[i].Err == nil && b.results[i].Status == 0 {
			b.results[i].Err = err
		}
	}
	b.mu.Unlock()

	if !wasDispatched {
		close(b.dispatched)
	}
	close(b.done)
}

// setResult stores the outcome of one pixel.
func (b *batch) setResult(index int, r pixelnet.PaintResult) {
	b.mu.Lock()
	b.results[index] = r
	b.mu.Unlock()
}

// finish ends a dispatched batch once every waiter delivered.
func (b *batch) finish(state pixelnet.BatchState, err error) {
	b.mu.Lock()
	b.state = state
	b.err = err
	b.mu.Unlock()
	close(b.done)
}

func (b *batch) pendingWaiters() []waiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]waiter(nil), b.waiters...)
}
