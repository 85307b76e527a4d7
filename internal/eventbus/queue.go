package eventbus

import (
	"errors"
	"time"

	"taskherder/pkg/taskqueue"
)

// Queue lifecycle event types.
const (
	QueueAdmitted  = "queue.admitted"
	QueueRejected  = "queue.rejected"
	QueueStarted   = "queue.started"
	QueueFinished  = "queue.finished"
	QueueFailed    = "queue.failed"
	QueueCancelled = "queue.cancelled"
)

// QueueEvent is the Data payload of queue.* events.
type QueueEvent struct {
	Queue      string        `json:"queue"`
	TaskID     uint64        `json:"task_id"`
	Job        string        `json:"job,omitempty"`
	Cost       float64       `json:"cost"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Err        string        `json:"err,omitempty"`
}

// FromQueue converts a task queue lifecycle event; the task label becomes
// the job name. A finished run that returned an error is reported as
// queue.failed.
func FromQueue(e taskqueue.Event) Event {
	qe := QueueEvent{
		Queue:      e.Queue,
		TaskID:     e.TaskID,
		Job:        e.Label,
		Cost:       e.Cost,
		QueueDelay: e.QueueDelay,
		Duration:   e.Duration,
	}
	if e.Err != nil {
		qe.Err = e.Err.Error()
		if r, ok := taskqueue.ReasonOf(e.Err); ok {
			qe.Reason = string(r)
		} else if errors.Is(e.Err, taskqueue.ErrClosed) {
			qe.Reason = taskqueue.ErrClosed.Error()
		}
	}
	return Event{Type: queueType(e), Time: e.At, Data: qe}
}

func queueType(e taskqueue.Event) string {
	switch e.Type {
	case taskqueue.EventAdmitted:
		return QueueAdmitted
	case taskqueue.EventRejected:
		return QueueRejected
	case taskqueue.EventStarted:
		return QueueStarted
	case taskqueue.EventFinished:
		if e.Err != nil {
			return QueueFailed
		}
		return QueueFinished
	case taskqueue.EventCancelled:
		return QueueCancelled
	default:
		return "queue.unknown"
	}
}
