package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/luciancaetano/pixelnet"
	"github.com/luciancaetano/pixelnet/internal/clock"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestGateFirstBatch(t *testing.T) {
	t.Parallel()

	g := New(pixelnet.DefaultCooldown, clock.NewManual(epoch))
	assert.True(t, g.CanSubmit())
	assert.Zero(t, g.Remaining())

	_, ok := g.Last()
	assert.False(t, ok)
}

// TestGateWindow walks the default window with a synthetic clock
func TestGateWindow(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(epoch)
	g := New(pixelnet.DefaultCooldown, clk)
	g.Record(clk.Now())

	tests := []struct {
		at        time.Duration
		canSubmit bool
		remaining time.Duration
	}{
		{at: 0, canSubmit: false, remaining: 1145 * time.Millisecond},
		{at: 1 * time.Millisecond, canSubmit: false, remaining: 1144 * time.Millisecond},
		{at: 1144 * time.Millisecond, canSubmit: false, remaining: 1 * time.Millisecond},
		{at: 1145 * time.Millisecond, canSubmit: true, remaining: 0},
		{at: 5 * time.Second, canSubmit: true, remaining: 0},
	}

	for _, tt := range tests {
		clk.Set(epoch.Add(tt.at))
		assert.Equal(t, tt.canSubmit, g.CanSubmit(), "at %v", tt.at)
		assert.Equal(t, tt.remaining, g.Remaining(), "at %v", tt.at)
	}
}

// TestGateRecordMonotonic tests that a stale timestamp never rewinds the gate
func TestGateRecordMonotonic(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(epoch)
	g := New(time.Second, clk)

	g.Record(epoch.Add(500 * time.Millisecond))
	g.Record(epoch)

	last, ok := g.Last()
	assert.True(t, ok)
	assert.Equal(t, epoch.Add(500*time.Millisecond), last)
}

func TestGateClockBackwards(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(epoch)
	g := New(time.Second, clk)
	g.Record(epoch)

	clk.Set(epoch.Add(-time.Minute))
	assert.False(t, g.CanSubmit())
	assert.Equal(t, time.Second, g.Remaining())
}

func TestGateZeroCooldown(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(epoch)
	g := New(0, clk)
	g.Record(epoch)
	assert.True(t, g.CanSubmit())
}
