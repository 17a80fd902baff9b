// Package cooldown enforces the minimum interval between two dispatched batches.
package cooldown

import (
	"sync"
	"time"

	"github.com/luciancaetano/pixelnet/internal/clock"
)

// Gate admits at most one batch per cooldown window.
//
// Every query takes the current time from the clock; the gate never sleeps.
type Gate struct {
	mu       sync.Mutex
	clock    clock.Clock
	cooldown time.Duration
	last     time.Time
	hasLast  bool
}

// New creates a gate. A nil clock means the system clock.
func New(cooldown time.Duration, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.System{}
	}
	return &Gate{clock: clk, cooldown: cooldown}
}

// CanSubmit reports whether a batch may be dispatched now.
func (g *Gate) CanSubmit() bool {
	return g.Remaining() == 0
}

// Remaining returns how long until the next batch may be dispatched.
func (g *Gate) Remaining() time.Duration {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasLast {
		return 0
	}
	elapsed := now.Sub(g.last)
	if elapsed >= g.cooldown {
		return 0
	}
	// a clock that stepped backwards still waits a full window
	if elapsed < 0 {
		return g.cooldown
	}
	return g.cooldown - elapsed
}

// Record marks a batch as dispatched at now. An older timestamp than the one
// already recorded is ignored.
func (g *Gate) Record(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hasLast && now.Before(g.last) {
		return
	}
	g.last = now
	g.hasLast = true
}

// Last returns the time of the last recorded dispatch and whether there was one.
func (g *Gate) Last() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.hasLast
}

// Cooldown returns the configured window.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}
