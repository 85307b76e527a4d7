package taskqueue

import "errors"

// CancelReason names an expected, scheduling-induced rejection of a task.
//
// Consumers use errors.Is (or IsCancellation) to tell these apart from
// failures returned by the work itself.
type CancelReason string

const (
	QueueCostLimitExceeded CancelReason = "Queue cost limit exceeded"
	Aborted                CancelReason = "Task aborted"
	Cancel                 CancelReason = "Task cancelled"
	TaskTooExpensive       CancelReason = "Task cost exceeds maximum bucket size"
)

func (r CancelReason) Error() string { return string(r) }

var (
	ErrClosed      = errors.New("task queue closed")
	ErrInvalidCost = errors.New("task cost must be a finite non-negative number")
	ErrTaskPanic   = errors.New("task panicked")
	ErrNilTask     = errors.New("task func is nil")
)

// ReasonOf extracts the cancellation reason carried by err, if any.
func ReasonOf(err error) (CancelReason, bool) {
	var r CancelReason
	if errors.As(err, &r) {
		return r, true
	}
	return "", false
}

// IsCancellation reports whether err was produced by the queue rather than by
// the task itself.
func IsCancellation(err error) bool {
	_, ok := ReasonOf(err)
	return ok
}
