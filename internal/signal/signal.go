// Package signal provides a coalescing wake-up primitive.
//
// A Signal carries no data. Any number of Activate calls made while nobody is
// waiting collapse into a single pending wake-up, and waiters must re-check
// their own condition after every wake because a Signal is shared between
// unrelated activities.
package signal

import "time"

// Signal is a single-slot wake-up. The zero value is not usable; use New.
type Signal struct {
	ch chan struct{}
}

// New returns an inactive Signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Activate wakes one waiter, or leaves a pending wake-up if none is waiting.
func (s *Signal) Activate() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the signal is activated.
func (s *Signal) Wait() {
	<-s.ch
}

// WaitTimeout blocks until the signal is activated or d elapses. It reports
// whether the signal was activated. A non-positive d polls without blocking.
func (s *Signal) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-s.ch:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}
