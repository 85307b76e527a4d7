package herder

import (
	"math"
	"slices"
	"strings"

	rtsup "taskherder/internal/runtime/supervisor"
	"taskherder/internal/scheduler"
)

// QueueStatus is the admin view of one host queue.
type QueueStatus struct {
	Host        string  `json:"host"`
	Pending     int     `json:"pending"`
	PendingCost float64 `json:"pending_cost"`
	Running     int     `json:"running"`
	Tokens      float64 `json:"tokens"`
	BurstLimit  float64 `json:"burst_limit"`
	SustainRate float64 `json:"sustain_rate"`
	Concurrency int     `json:"concurrency"`
	// CostLimit is 0 when unbounded.
	CostLimit float64 `json:"queue_cost_limit"`
}

type Status struct {
	Queues     []QueueStatus             `json:"queues"`
	Schedules  []scheduler.ScheduleInfo  `json:"schedules"`
	Supervisor *rtsup.SupervisorSnapshot `json:"supervisor,omitempty"`
	BusDropped uint64                    `json:"bus_dropped"`
}

// Status returns a point-in-time view of the daemon.
func (a *App) Status() Status {
	st := Status{
		Schedules:  a.sched.Schedules(),
		BusDropped: a.bus.Dropped(),
	}
	for _, host := range a.queues.Keys() {
		q, ok := a.queues.Get(host)
		if !ok {
			continue
		}
		s := q.Stats()
		o := q.Options()
		qs := QueueStatus{
			Host:        host,
			Pending:     s.Pending,
			PendingCost: s.PendingCost,
			Running:     s.Running,
			Tokens:      s.Tokens,
			BurstLimit:  o.BurstLimit,
			SustainRate: o.SustainRate,
			Concurrency: o.Concurrency,
		}
		if !math.IsInf(o.QueueCostLimit, 1) {
			qs.CostLimit = o.QueueCostLimit
		}
		st.Queues = append(st.Queues, qs)
	}
	slices.SortFunc(st.Queues, func(x, y QueueStatus) int { return strings.Compare(x.Host, y.Host) })
	if a.sup != nil {
		snap := a.sup.Snapshot()
		st.Supervisor = &snap
	}
	return st
}
