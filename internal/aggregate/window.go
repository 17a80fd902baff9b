package aggregate

import "time"

// Window counts frames sent within the trailing span. It remembers the send
// time of the last limit frames, so a frame is admitted only if fewer than
// limit frames were sent in the span ending now.
//
// Window is not safe for concurrent use; the Scheduler guards it.
type Window struct {
	limit  int
	span   time.Duration
	stamps []time.Time
	head   int
	n      int
}

// NewWindow creates a window admitting limit frames per span.
func NewWindow(limit int, span time.Duration) *Window {
	return &Window{
		limit:  limit,
		span:   span,
		stamps: make([]time.Time, limit),
	}
}

func (w *Window) prune(now time.Time) {
	for w.n > 0 && now.Sub(w.stamps[w.head]) >= w.span {
		w.head = (w.head + 1) % w.limit
		w.n--
	}
}

// Allow reports whether one more frame may be sent at now.
func (w *Window) Allow(now time.Time) bool {
	if w.limit <= 0 {
		return false
	}
	w.prune(now)
	return w.n < w.limit
}

// Record registers a frame sent at now.
func (w *Window) Record(now time.Time) {
	if w.limit <= 0 {
		return
	}
	if w.n == w.limit {
		w.head = (w.head + 1) % w.limit
		w.n--
	}
	w.stamps[(w.head+w.n)%w.limit] = now
	w.n++
}

// Count returns the number of frames sent in the span ending at now.
func (w *Window) Count(now time.Time) int {
	w.prune(now)
	return w.n
}

// Next returns the earliest time at which one more frame is admitted.
func (w *Window) Next(now time.Time) time.Time {
	w.prune(now)
	if w.n < w.limit {
		return now
	}
	return w.stamps[w.head].Add(w.span)
}

// Reset forgets every recorded frame.
func (w *Window) Reset() {
	w.head = 0
	w.n = 0
}
