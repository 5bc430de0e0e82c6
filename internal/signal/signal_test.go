package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActivateCoalesces(t *testing.T) {
	t.Parallel()

	s := New()
	s.Activate()
	s.Activate()
	s.Activate()

	assert.True(t, s.WaitTimeout(0))
	assert.False(t, s.WaitTimeout(0), "pending activations collapse into one")
}

func TestWaitWakesBlockedWaiter(t *testing.T) {
	t.Parallel()

	s := New()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	s.Activate()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWaitTimeoutExpires(t *testing.T) {
	t.Parallel()

	s := New()
	start := time.Now()
	assert.False(t, s.WaitTimeout(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
