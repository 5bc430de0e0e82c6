package sarfs

import (
	"sync/atomic"
	"time"
)

// downloadWindow adapts the maximum bytes per request to observed latency.
// Slow requests halve it down to lower; fast requests that used at least half
// of it double it up to upper.
type downloadWindow struct {
	lower  uint64
	upper  uint64
	target time.Duration
	max    atomic.Uint64
}

func newDownloadWindow(lower, upper uint64, target time.Duration) *downloadWindow {
	w := &downloadWindow{lower: lower, upper: upper, target: target}
	w.max.Store(upper)
	return w
}

func (w *downloadWindow) current() uint64 {
	return w.max.Load()
}

// update records one request of size bytes that took elapsed. It reports
// whether the maximum changed.
func (w *downloadWindow) update(elapsed time.Duration, size uint64) bool {
	cur := w.max.Load()
	next := cur
	switch {
	case elapsed > w.target:
		next = max(cur/2, w.lower)
	case size >= cur/2 && elapsed < w.target/2:
		next = min(cur*2, w.upper)
	}
	if next == cur {
		return false
	}
	w.max.Store(next)
	return true
}
