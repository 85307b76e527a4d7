package taskqueue

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// Queue runs tasks under a token-bucket rate limit and a concurrency limit.
//
// A bucket holds up to BurstLimit tokens and refills at SustainRate tokens
// per second. Each task costs tokens; the task at the head of the queue waits
// until the bucket can afford it, and only then waits for a free concurrency
// slot. Tasks start in submission order: an unaffordable head is never
// skipped by cheaper tasks behind it.
//
// One scheduler goroutine per queue makes every refill/spend/dispatch
// decision. Other goroutines only append to, remove from, or read the pending
// list, always under mu and never across a wait.
type Queue struct {
	name           string
	burstLimit     float64
	sustainRate    float64
	queueCostLimit float64
	concurrency    int
	clock          Clock
	obs            Observer

	mu       sync.Mutex
	bucket   tokenBucket
	pending  []*taskRecord
	running  int
	added    *Deferred[struct{}]
	finished *Deferred[struct{}]
	closed   bool

	seq       atomic.Uint64
	stopCh    chan struct{}
	loopDone  chan struct{}
	tasks     sync.WaitGroup
	closeOnce sync.Once
}

// New creates a queue and starts its scheduler. Call Close to stop it.
func New(opts Options) *Queue {
	opts = opts.withDefaults()
	q := &Queue{
		name:           opts.Name,
		sustainRate:    opts.SustainRate,
		queueCostLimit: opts.QueueCostLimit,
		concurrency:    opts.Concurrency,
		clock:          opts.Clock,
		obs:            opts.Observer,
		added:          resolved(),
		finished:       resolved(),
		stopCh:         make(chan struct{}),
		loopDone:       make(chan struct{}),
	}
	q.bucket = newTokenBucket(opts.BurstLimit, opts.SustainRate, opts.StartingTokens, q.clock.Now())
	q.burstLimit = q.bucket.burst
	go q.loop()
	return q
}

type taskOptions struct {
	cost  float64
	label string
}

// TaskOption configures a single submission.
type TaskOption func(*taskOptions)

// WithCost sets the task's cost in tokens (default 1).
func WithCost(cost float64) TaskOption { return func(o *taskOptions) { o.cost = cost } }

// WithLabel tags the task's lifecycle events.
func WithLabel(label string) TaskOption { return func(o *taskOptions) { o.label = label } }

// Submit adds fn to q and returns its future immediately.
//
// ctx acts as the abort signal: if it is done while the task is still
// pending, the task is removed and its future rejected with Aborted. Once the
// task has been dispatched ctx no longer cancels it; fn receives a context
// that carries ctx's values but not its cancellation.
//
// The future is rejected without enqueueing when the cost exceeds the burst
// limit (TaskTooExpensive) or would push the pending cost over the queue cost
// limit (QueueCostLimitExceeded).
func Submit[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error), opts ...TaskOption) *Future[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	to := taskOptions{cost: 1}
	for _, o := range opts {
		if o != nil {
			o(&to)
		}
	}
	rec, d := newRecord(ctx, q.seq.Add(1), to.cost, fn)
	rec.label = to.label
	f := &Future[T]{rec: rec, d: d}
	if fn == nil {
		q.rejectAdmission(rec, ErrNilTask)
		return f
	}
	if err := q.admit(ctx, rec); err != nil {
		q.rejectAdmission(rec, err)
	}
	return f
}

// Go is Submit for work that only reports an error.
func (q *Queue) Go(ctx context.Context, fn func(ctx context.Context) error, opts ...TaskOption) *Future[struct{}] {
	if fn == nil {
		return Submit[struct{}](ctx, q, nil, opts...)
	}
	return Submit(ctx, q, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
}

func (q *Queue) admit(ctx context.Context, rec *taskRecord) error {
	if math.IsNaN(rec.cost) || math.IsInf(rec.cost, 0) || rec.cost < 0 {
		return ErrInvalidCost
	}
	if rec.cost > q.burstLimit {
		return TaskTooExpensive
	}
	if ctx.Err() != nil {
		return abortError(ctx)
	}
	// The listener is registered before the record becomes visible so an abort
	// racing with admission is never lost.
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { q.abort(rec, abortError(ctx)) })
		rec.stopAbort.Store(&stop)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		rec.detach()
		return ErrClosed
	}
	if !math.IsInf(q.queueCostLimit, 1) {
		total := rec.cost
		for _, p := range q.pending {
			total += p.cost
		}
		if total > q.queueCostLimit {
			q.mu.Unlock()
			rec.detach()
			return QueueCostLimitExceeded
		}
	}
	if !rec.is(statePending) {
		// Aborted before it was queued; the abort already settled it.
		q.mu.Unlock()
		return nil
	}
	rec.admittedAt = q.clock.Now()
	q.pending = append(q.pending, rec)
	added := q.added
	q.mu.Unlock()

	added.Resolve(struct{}{})
	q.emit(Event{Type: EventAdmitted, TaskID: rec.id, Label: rec.label, Cost: rec.cost})
	return nil
}

func (q *Queue) rejectAdmission(rec *taskRecord, err error) {
	if rec.cancel(err) {
		q.emit(Event{Type: EventRejected, TaskID: rec.id, Label: rec.label, Cost: rec.cost, Err: err})
	}
}

func (q *Queue) abort(rec *taskRecord, reason error) {
	q.mu.Lock()
	ok := rec.cancel(reason)
	if ok {
		q.removeLocked(rec)
	}
	q.mu.Unlock()
	if ok {
		q.emit(Event{Type: EventCancelled, TaskID: rec.id, Label: rec.label, Cost: rec.cost, Err: reason})
	}
}

func abortError(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("%w: %w", Aborted, cause)
}

// Cancel removes a pending task and rejects it with reason (Cancel if nil).
// It returns false, with no other effect, if the task is not pending in q:
// already dispatched, running, settled, or unknown.
func (q *Queue) Cancel(h Handle, reason error) bool {
	if h == nil {
		return false
	}
	rec := h.record()
	if rec == nil {
		return false
	}
	if reason == nil {
		reason = Cancel
	}
	q.mu.Lock()
	ok := q.removeLocked(rec) && rec.cancel(reason)
	q.mu.Unlock()
	if ok {
		q.emit(Event{Type: EventCancelled, TaskID: rec.id, Label: rec.label, Cost: rec.cost, Err: reason})
	}
	return ok
}

// CancelAll rejects every pending task with reason (Cancel if nil) and
// returns how many were cancelled. Running tasks are unaffected.
func (q *Queue) CancelAll(reason error) int {
	if reason == nil {
		reason = Cancel
	}
	q.mu.Lock()
	old := q.pending
	q.pending = nil
	q.mu.Unlock()
	return q.cancelRecords(old, reason)
}

func (q *Queue) cancelRecords(recs []*taskRecord, reason error) int {
	n := 0
	for _, rec := range recs {
		if rec.cancel(reason) {
			n++
			q.emit(Event{Type: EventCancelled, TaskID: rec.id, Label: rec.label, Cost: rec.cost, Err: reason})
		}
	}
	return n
}

// removeLocked deletes rec from the pending list, keeping the order of the rest.
func (q *Queue) removeLocked(rec *taskRecord) bool {
	i := slices.Index(q.pending, rec)
	if i < 0 {
		return false
	}
	q.pending = slices.Delete(q.pending, i, i+1)
	return true
}

// Len reports the number of pending (not yet dispatched) tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Name() string { return q.name }

// Options returns the queue configuration. StartingTokens holds the token
// count as of the last refill, which only matches the configured starting
// value before any time has passed or any task has run. Observer and Clock
// are the live values the queue uses, not copies.
func (q *Queue) Options() Options {
	q.mu.Lock()
	tokens := q.bucket.tokens
	q.mu.Unlock()
	return Options{
		BurstLimit:     q.burstLimit,
		SustainRate:    q.sustainRate,
		StartingTokens: Float(tokens),
		QueueCostLimit: q.queueCostLimit,
		Concurrency:    q.concurrency,
		Name:           q.name,
		Observer:       q.obs,
		Clock:          q.clock,
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{Name: q.name, Pending: len(q.pending), Running: q.running, Tokens: q.bucket.tokens}
	for _, rec := range q.pending {
		st.PendingCost += rec.cost
	}
	return st
}

// Close stops the scheduler, rejects every pending task with an error that
// matches both Cancel and ErrClosed, and waits for running tasks to settle or
// for ctx to be done. Later submissions are rejected with ErrClosed.
func (q *Queue) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		old := q.pending
		q.pending = nil
		q.mu.Unlock()
		close(q.stopCh)
		q.cancelRecords(old, closedError())
	})

	done := make(chan struct{})
	go func() {
		<-q.loopDone
		q.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closedError() error { return fmt.Errorf("%w: %w", Cancel, ErrClosed) }

func (q *Queue) emit(e Event) {
	if q.obs == nil {
		return
	}
	e.Queue = q.name
	if e.At.IsZero() {
		e.At = q.clock.Now()
	}
	q.obs.Observe(e)
}
