package taskqueue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

type recordState int32

const (
	statePending recordState = iota
	stateDispatched
	stateRunning
	stateSettled
	stateCancelled
)

// taskRecord is the queue's view of one submitted unit of work.
//
// It is type-erased so a single pending list can hold tasks of any result
// type; the typed side lives in the Future that wraps the same Deferred.
type taskRecord struct {
	id         uint64
	cost       float64
	label      string
	admittedAt time.Time

	state atomic.Int32

	// exec runs the work and settles the future. It returns the work's error.
	exec func() error
	// reject settles the future with an error.
	reject func(error) bool

	// stopAbort detaches the abort listener (context.AfterFunc).
	stopAbort atomic.Pointer[func() bool]
}

func newRecord[T any](ctx context.Context, id uint64, cost float64, fn func(context.Context) (T, error)) (*taskRecord, *Deferred[T]) {
	d := NewDeferred[T]()
	workCtx := context.WithoutCancel(ctx)
	rec := &taskRecord{id: id, cost: cost}
	rec.reject = d.Reject
	rec.exec = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
				d.Reject(err)
			}
		}()
		v, err := fn(workCtx)
		if err != nil {
			d.Reject(err)
			return err
		}
		d.Resolve(v)
		return nil
	}
	return rec, d
}

func (r *taskRecord) is(s recordState) bool { return recordState(r.state.Load()) == s }

func (r *taskRecord) transition(from, to recordState) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// cancel rejects the record with reason if it has not been dispatched yet.
func (r *taskRecord) cancel(reason error) bool {
	if !r.transition(statePending, stateCancelled) {
		return false
	}
	r.detach()
	r.reject(reason)
	return true
}

// run executes a dispatched record. It is a no-op for any other state.
func (r *taskRecord) run() (ran bool, err error) {
	if !r.transition(stateDispatched, stateRunning) {
		return false, nil
	}
	r.detach()
	err = r.exec()
	r.state.Store(int32(stateSettled))
	return true, err
}

func (r *taskRecord) detach() {
	if stop := r.stopAbort.Swap(nil); stop != nil {
		(*stop)()
	}
}

// Handle identifies a submitted task for Queue.Cancel.
type Handle interface {
	record() *taskRecord
}

// Future is the caller's view of a submitted task.
type Future[T any] struct {
	rec *taskRecord
	d   *Deferred[T]
}

func (f *Future[T]) record() *taskRecord { return f.rec }

// ID is unique within the queue that admitted the task.
func (f *Future[T]) ID() uint64 { return f.rec.id }

func (f *Future[T]) Cost() float64 { return f.rec.cost }

// Done is closed once the task has settled (ran, failed, was rejected or cancelled).
func (f *Future[T]) Done() <-chan struct{} { return f.d.Done() }

// Wait blocks until the task settles or ctx is done. A ctx error here does not
// cancel the task; use Queue.Cancel or the submission context for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) { return f.d.Wait(ctx) }

// Result blocks until the task settles.
func (f *Future[T]) Result() (T, error) { return f.d.Wait(context.Background()) }
