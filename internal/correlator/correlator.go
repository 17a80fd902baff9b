// Package correlator matches inbound paint results to the requests that are
// waiting for them.
package correlator

import (
	"sync"
	"time"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/clock"
)

type entry struct {
	ch           chan pixelnet.PaintResult
	pixel        pixelnet.PixelEdit
	registeredAt time.Time
}

// Correlator hands out paint ids and keeps one pending entry per id until a
// result, a failure or expiry removes it. Every entry is delivered exactly
// once. Safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]*entry
	clock   clock.Clock
	ttl     time.Duration
}

// New creates a correlator whose entries expire after ttl. A ttl <= 0 disables
// expiry. A nil clock means the system clock.
func New(ttl time.Duration, clk clock.Clock) *Correlator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Correlator{
		pending: make(map[uint32]*entry),
		clock:   clk,
		ttl:     ttl,
	}
}

// Register allocates the next free paint id for px and returns it with the
// channel its result will be delivered on. The channel is buffered, so
// delivery never blocks the resolver.
//
// Ids come from a counter modulo 2^32; an id whose entry is still pending is
// skipped.
func (c *Correlator) Register(px pixelnet.PixelEdit) (uint32, <-chan pixelnet.PaintResult) {
	e := &entry{
		ch:    make(chan pixelnet.PaintResult, 1),
		pixel: px,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.next
	for {
		if _, busy := c.pending[id]; !busy {
			break
		}
		id++
	}
	c.next = id + 1
	e.registeredAt = c.clock.Now()
	c.pending[id] = e
	return id, e.ch
}

func (c *Correlator) take(id uint32) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return e, ok
}

// Resolve delivers a server status for id. It reports false when nothing was
// waiting, in which case the result is discarded.
func (c *Correlator) Resolve(id uint32, status pixelnet.Status) bool {
	e, ok := c.take(id)
	if !ok {
		return false
	}
	e.ch <- pixelnet.PaintResult{PaintID: id, Pixel: e.pixel, Status: status}
	return true
}

// Fail delivers a local failure for id.
func (c *Correlator) Fail(id uint32, err error) bool {
	e, ok := c.take(id)
	if !ok {
		return false
	}
	e.ch <- pixelnet.PaintResult{PaintID: id, Pixel: e.pixel, Status: pixelnet.StatusNotDelivered, Err: err}
	return true
}

// FailAll fails every pending entry with reason and returns how many there
// were. The map is empty afterwards.
func (c *Correlator) FailAll(reason error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*entry)
	c.mu.Unlock()

	for id, e := range pending {
		e.ch <- pixelnet.PaintResult{PaintID: id, Pixel: e.pixel, Status: pixelnet.StatusNotDelivered, Err: reason}
	}
	return len(pending)
}

// Sweep fails every entry registered at least ttl before now with
// pixelnet.ErrResultTimeout and returns how many expired.
func (c *Correlator) Sweep(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	var expired map[uint32]*entry
	for id, e := range c.pending {
		if now.Sub(e.registeredAt) >= c.ttl {
			if expired == nil {
				expired = make(map[uint32]*entry)
			}
			expired[id] = e
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for id, e := range expired {
		e.ch <- pixelnet.PaintResult{PaintID: id, Pixel: e.pixel, Status: pixelnet.StatusNotDelivered, Err: pixelnet.ErrResultTimeout}
	}
	return len(expired)
}

// Pending reports whether id is still waiting for a result.
func (c *Correlator) Pending(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// Len returns the number of pending entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// TTL returns the configured expiry.
func (c *Correlator) TTL() time.Duration {
	return c.ttl
}
