package taskqueue

import "math"

// Options configures a Queue.
//
// Defaults (when fields are omitted/zero):
//   - StartingTokens: nil means a full bucket (BurstLimit)
//   - QueueCostLimit: <= 0 means unbounded (reported as +Inf)
//   - Concurrency: 1
//   - Clock: the wall clock
type Options struct {
	// BurstLimit is the bucket capacity and the largest cost a single task may have.
	BurstLimit float64
	// SustainRate is the refill rate in tokens per second.
	SustainRate float64
	// StartingTokens is the initial token count, clamped into [0, BurstLimit].
	StartingTokens *float64
	// QueueCostLimit caps the total cost of pending (not yet dispatched) tasks.
	QueueCostLimit float64
	// Concurrency is the number of tasks that may run at once.
	Concurrency int

	// Name labels the queue in events. The manager sets it to the queue key.
	Name     string
	Observer Observer
	Clock    Clock
}

func (o Options) withDefaults() Options {
	if o.QueueCostLimit <= 0 || math.IsNaN(o.QueueCostLimit) {
		o.QueueCostLimit = math.Inf(1)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	return o
}

// clone copies o without sharing StartingTokens. Observer and Clock are
// shared.
func (o Options) clone() Options {
	if o.StartingTokens != nil {
		o.StartingTokens = Float(*o.StartingTokens)
	}
	return o
}

// Float returns a pointer to v, for Options.StartingTokens.
func Float(v float64) *float64 { return &v }

// Override adjusts the manager's default options for one queue.
type Override func(*Options)

func WithBurstLimit(v float64) Override  { return func(o *Options) { o.BurstLimit = v } }
func WithSustainRate(v float64) Override { return func(o *Options) { o.SustainRate = v } }
func WithStartingTokens(v float64) Override {
	return func(o *Options) { o.StartingTokens = Float(v) }
}
func WithQueueCostLimit(v float64) Override { return func(o *Options) { o.QueueCostLimit = v } }
func WithConcurrency(n int) Override        { return func(o *Options) { o.Concurrency = n } }
func WithName(name string) Override         { return func(o *Options) { o.Name = name } }
func WithObserver(obs Observer) Override    { return func(o *Options) { o.Observer = obs } }
func WithClock(c Clock) Override            { return func(o *Options) { o.Clock = c } }

// Stats is a point-in-time view of a queue for monitoring.
type Stats struct {
	Name        string
	Pending     int
	PendingCost float64
	Running     int
	Tokens      float64
}
