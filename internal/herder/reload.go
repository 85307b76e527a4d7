package herder

import (
	"context"
	"slices"
	"strings"
	"time"

	"taskherder/internal/config"
	"taskherder/pkg/logx"
	"taskherder/pkg/taskqueue"
)

const retireTimeout = 30 * time.Second

// applyConfig applies a published config. Logging, queue limits, jobs, the
// scheduler and the admin server change live; storage needs a restart.
func (a *App) applyConfig(ctx context.Context, newCfg *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = newCfg
	a.mu.Unlock()

	sections, attrs, hosts := config.SummarizeConfigChange(prev, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.setWarnRate(rejectRate(newCfg))

	if slices.Contains(sections, "queues") {
		a.log.Debug("queue limits changed", logx.Any("override_hosts", hosts))
		a.replaceQueues(prev, newCfg)
	}
	if err := a.registerJobs(newCfg); err != nil {
		a.log.Warn("job registration incomplete", logx.Err(err))
	}

	prevSched := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(newCfg))
	switch {
	case prevSched && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevSched && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	a.admin.Reconfigure(ctx, mapAdminConfig(newCfg))

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// replaceQueues swaps in a fresh queue for every live host whose effective
// limits changed. Queues that do not exist yet pick up the new limits when
// first used. The replaced queue is closed in the background: its pending
// work is cancelled and running work is allowed to finish.
func (a *App) replaceQueues(prev, newCfg *config.Config) {
	for _, host := range a.queues.Keys() {
		if prev != nil && sameLimits(prev.Queues.For(host), newCfg.Queues.For(host)) {
			continue
		}
		old, ok := a.queues.Get(host)
		if !ok {
			continue
		}
		q := a.queues.Create(host, queueOverrides(newCfg, host)...)
		a.log.Info("queue replaced",
			logx.String("host", host),
			logx.Float64("burst_limit", q.Options().BurstLimit),
			logx.Float64("sustain_rate", q.Options().SustainRate),
			logx.Int("concurrency", q.Options().Concurrency),
			logx.Int("pending", old.Len()),
		)
		a.retire(host, old)
	}
}

func (a *App) retire(host string, q *taskqueue.Queue) {
	a.retired.Add(1)
	go func() {
		defer a.retired.Done()
		ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
		defer cancel()
		if err := q.Close(ctx); err != nil {
			a.log.Warn("retired queue did not drain", logx.String("host", host), logx.Err(err))
		}
	}()
}

func sameLimits(x, y config.QueueConfig) bool {
	tokens := func(p *float64) float64 {
		if p == nil {
			return -1
		}
		return *p
	}
	return x.BurstLimit == y.BurstLimit &&
		x.SustainRate == y.SustainRate &&
		tokens(x.StartingTokens) == tokens(y.StartingTokens) &&
		x.QueueCostLimit == y.QueueCostLimit &&
		x.Concurrency == y.Concurrency
}
