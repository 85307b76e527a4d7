package taskqueue

import "time"

type EventType int

const (
	EventAdmitted EventType = iota
	EventRejected
	EventStarted
	EventFinished
	EventCancelled
)

func (t EventType) String() string {
	switch t {
	case EventAdmitted:
		return "admitted"
	case EventRejected:
		return "rejected"
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle step of a task.
//
// Err is set for rejections, cancellations and failed runs. QueueDelay is the
// time between admission and start (Started/Finished only); Duration is the
// run time (Finished only).
type Event struct {
	Type       EventType
	Queue      string
	TaskID     uint64
	Label      string // from WithLabel
	Cost       float64
	At         time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Err        error
}

// Observer receives lifecycle events. Observe is called synchronously from
// the goroutine that caused the event and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
