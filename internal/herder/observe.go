package herder

import (
	"taskherder/internal/eventbus"
	"taskherder/pkg/logx"
	"taskherder/pkg/taskqueue"
)

// observe receives every queue lifecycle event. It runs synchronously on the
// queue's goroutines, so it only publishes and logs.
func (a *App) observe(e taskqueue.Event) {
	a.bus.Publish(eventbus.FromQueue(e))

	switch e.Type {
	case taskqueue.EventRejected, taskqueue.EventCancelled:
		msg := "task rejected"
		if e.Type == taskqueue.EventCancelled {
			msg = "task cancelled"
		}
		a.warnLog().Warn(msg,
			logx.String("queue", e.Queue),
			logx.String("job", e.Label),
			logx.Uint64("task", e.TaskID),
			logx.Float64("cost", e.Cost),
			logx.Err(e.Err),
		)
	case taskqueue.EventStarted:
		a.log.Trace("task started",
			logx.String("queue", e.Queue),
			logx.String("job", e.Label),
			logx.Duration("queue_delay", e.QueueDelay),
		)
	}
}
