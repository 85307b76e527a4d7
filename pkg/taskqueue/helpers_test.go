package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"
)

// tracker records the lifecycle of named test tasks.
type tracker struct {
	mu     sync.Mutex
	states map[string]string
	order  []string
}

func newTracker() *tracker { return &tracker{states: map[string]string{}} }

func (tr *tracker) set(name, state string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states[name] = state
	if state == "started" {
		tr.order = append(tr.order, name)
	}
}

func (tr *tracker) state(name string) string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.states[name]
}

func (tr *tracker) started() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.order...)
}

// task returns work that marks itself started, blocks until release is closed
// (nil means run straight through) and then marks itself finished.
func (tr *tracker) task(name string, release <-chan struct{}) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		tr.set(name, "started")
		if release != nil {
			<-release
		}
		tr.set(name, "finished")
		return name, nil
	}
}

func (tr *tracker) waitState(t *testing.T, name, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.state(name) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s: state=%q want %q", name, tr.state(name), want)
		}
		time.Sleep(time.Millisecond)
	}
}

// stays checks that name keeps state want for a short while.
func (tr *tracker) stays(t *testing.T, name, want string) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Millisecond)
	for time.Now().Before(deadline) {
		if got := tr.state(name); got != want {
			t.Fatalf("%s: state=%q want %q", name, got, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitLen(t *testing.T, q *Queue, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Len=%d want %d", q.Len(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	q := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return q
}

func result[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	if err == context.DeadlineExceeded && !f.d.Settled() {
		t.Fatalf("task %d did not settle", f.ID())
	}
	return v, err
}
