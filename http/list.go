package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"sync"
	"sync/atomic"
)

// RequestList tracks in-flight requests so they can be cancelled as a group.
//
// After BlockingCancelAll the list is closed: requests started into it
// complete immediately as canceled until Reset is called.
type RequestList struct {
	mu       sync.Mutex
	ctx      context.Context //nolint:containedctx // lifetime of the request group
	cancel   context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewRequestList returns an open, empty list.
func NewRequestList() *RequestList {
	l := &RequestList{}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// acquire registers a request. It returns false when the list is closed.
func (l *RequestList) acquire() (context.Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, false
	}
	l.wg.Add(1)
	l.inFlight.Add(1)
	return l.ctx, true
}

func (l *RequestList) release() {
	l.inFlight.Add(-1)
	l.wg.Done()
}

// InFlight returns the number of requests whose final callback has not
// returned yet.
func (l *RequestList) InFlight() int {
	return int(l.inFlight.Load())
}

// BlockingCancelAll cancels every request in the list and waits until each
// has delivered its final callback. The list stays closed afterwards.
func (l *RequestList) BlockingCancelAll() {
	l.mu.Lock()
	l.closed = true
	l.cancel()
	l.mu.Unlock()
	l.wg.Wait()
}

// Reset reopens a closed list.
func (l *RequestList) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		return
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.closed = false
}
