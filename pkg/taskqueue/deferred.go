package taskqueue

import (
	"context"
	"sync"
)

// Deferred is a one-shot value that is settled from the outside.
//
// The first Resolve or Reject wins; later calls are ignored and report false.
// Done is closed once the value is settled, so any number of goroutines may
// wait on it.
type Deferred[T any] struct {
	once sync.Once
	done chan struct{}

	val T
	err error
}

func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles d with v.
func (d *Deferred[T]) Resolve(v T) bool {
	ok := false
	d.once.Do(func() {
		d.val = v
		close(d.done)
		ok = true
	})
	return ok
}

// Reject settles d with err.
func (d *Deferred[T]) Reject(err error) bool {
	ok := false
	d.once.Do(func() {
		d.err = err
		close(d.done)
		ok = true
	})
	return ok
}

func (d *Deferred[T]) Done() <-chan struct{} { return d.done }

func (d *Deferred[T]) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Wait blocks until d is settled or ctx is done.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-d.done:
		return d.val, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// resolved returns an already-settled signal. The queue starts with these so
// firing a wake-up before anyone waits is a harmless no-op.
func resolved() *Deferred[struct{}] {
	d := NewDeferred[struct{}]()
	d.Resolve(struct{}{})
	return d
}
