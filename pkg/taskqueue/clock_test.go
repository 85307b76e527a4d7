package taskqueue

import (
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	at time.Time
	ch chan time.Time
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, fakeTimer{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.timers[:0]
	for _, tm := range c.timers {
		if !tm.at.After(c.now) {
			tm.ch <- c.now
			continue
		}
		kept = append(kept, tm)
	}
	c.timers = kept
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// BlockUntil waits until at least n timers are armed.
func (c *fakeClock) BlockUntil(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d armed timers (have %d)", n, c.pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFakeClock_AdvanceFiresDueTimers(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	early := c.After(time.Millisecond)
	late := c.After(time.Second)

	c.Advance(time.Millisecond)
	select {
	case <-early:
	default:
		t.Fatalf("expected early timer to fire")
	}
	select {
	case <-late:
		t.Fatalf("late timer fired too soon")
	default:
	}
	if got := c.pending(); got != 1 {
		t.Fatalf("pending timers=%d want 1", got)
	}
}
