package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// Interval jobs registered together would otherwise all fire on the same
// tick after a restart and hit their queues at once.
const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first, then follows every.
type delayedFirst struct {
	every cron.Schedule
	first time.Time
}

func (d *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.every.Next(t)
}

// intervalWithSpread returns an "@every" schedule whose first fire is pushed
// back by a random jitter in [0, min(every, maxStartupSpread)).
func intervalWithSpread(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	jitter := rand.N(window)
	return &delayedFirst{every: base, first: now.Add(every + jitter)}, jitter
}
