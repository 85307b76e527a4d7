package herder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"taskherder/internal/config"
	"taskherder/internal/jobs"
	"taskherder/internal/observability/admin"
	"taskherder/internal/scheduler"
	"taskherder/internal/storage"
	"taskherder/pkg/logx"
	"taskherder/pkg/taskqueue"
)

type jobState struct {
	job      jobs.Job
	inflight atomic.Int32 // submitted runs not yet settled
	skipped  atomic.Uint64
}

// validateJobs checks what config.Validate cannot: cron expressions and the
// parsed job definitions.
func validateJobs(cfg *config.Config) error {
	var errs []error
	for i, jc := range cfg.Jobs {
		if err := scheduler.Validate(jc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d].schedule: %w", i, err))
		}
		if _, err := jobs.FromConfig(jc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// registerJobs makes the scheduler match cfg.Jobs. Unchanged jobs keep their
// state (and their in-flight run); edited jobs are re-registered.
func (a *App) registerJobs(cfg *config.Config) error {
	next := make(map[string]*jobState, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		j, err := jobs.FromConfig(jc)
		if err != nil {
			return err
		}
		next[j.Name] = &jobState{job: j}
	}

	a.mu.Lock()
	prev := a.jobs
	for name, st := range next {
		if old, ok := prev[name]; ok && old.job == st.job {
			next[name] = old
		}
	}
	a.jobs = next
	a.mu.Unlock()

	var errs []error
	for name := range prev {
		if _, ok := next[name]; !ok {
			a.sched.Remove(name)
		}
	}
	for name, st := range next {
		if old, ok := prev[name]; ok && old == st {
			continue
		}
		if err := a.sched.AddSchedule(name, st.job.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) lookupJob(name string) *jobState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.jobs[name]
}

func (a *App) jobNames() []string {
	a.mu.Lock()
	out := make([]string, 0, len(a.jobs))
	for name := range a.jobs {
		out = append(out, name)
	}
	a.mu.Unlock()
	slices.Sort(out)
	return out
}

// trigger is the scheduler callback. Unless the job allows overlap, a trigger
// is skipped while the previous run is still queued or running.
func (a *App) trigger(ctx context.Context, name string) {
	st := a.lookupJob(name)
	if st == nil {
		return
	}
	if st.job.AllowOverlap {
		st.inflight.Add(1)
	} else if !st.inflight.CompareAndSwap(0, 1) {
		n := st.skipped.Add(1)
		a.log.Debug("trigger skipped: previous run unsettled",
			logx.String("job", name),
			logx.Int("inflight", int(st.inflight.Load())),
			logx.Uint64("skipped", n),
		)
		return
	}
	a.submit(ctx, st)
}

// RunNow submits one run of the named job outside its schedule, even while
// another run is unsettled. Scheduled triggers are skipped until every run has
// settled. The returned future settles when the run does.
func (a *App) RunNow(ctx context.Context, name string) (*taskqueue.Future[jobs.Result], error) {
	st := a.lookupJob(name)
	if st == nil {
		return nil, fmt.Errorf("unknown job %q", name)
	}
	st.inflight.Add(1)
	return a.submit(ctx, st), nil
}

func (a *App) submit(ctx context.Context, st *jobState) *taskqueue.Future[jobs.Result] {
	j := st.job
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()
	q := a.queues.GetOrCreate(j.Queue, queueOverrides(cfg, j.Queue)...)

	// started is written by the work before it settles the future and read
	// only after Result returns.
	var started time.Time
	work := j.Work(a.client)
	submitted := time.Now()
	f := taskqueue.Submit(ctx, q, func(ctx context.Context) (jobs.Result, error) {
		started = time.Now()
		return work(ctx)
	}, taskqueue.WithCost(j.Cost), taskqueue.WithLabel(j.Name))

	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		res, err := f.Result()
		st.inflight.Add(-1)
		a.record(j, submitted, started, res, err)
	}()
	return f
}

func outcomeOf(err error) (outcome, reason string) {
	switch {
	case err == nil:
		return storage.OutcomeOK, ""
	case errors.Is(err, taskqueue.TaskTooExpensive),
		errors.Is(err, taskqueue.QueueCostLimitExceeded),
		errors.Is(err, taskqueue.ErrInvalidCost):
		if r, ok := taskqueue.ReasonOf(err); ok {
			return storage.OutcomeRejected, string(r)
		}
		return storage.OutcomeRejected, err.Error()
	case errors.Is(err, taskqueue.ErrClosed):
		return storage.OutcomeCancelled, taskqueue.ErrClosed.Error()
	case taskqueue.IsCancellation(err):
		r, _ := taskqueue.ReasonOf(err)
		return storage.OutcomeCancelled, string(r)
	default:
		return storage.OutcomeFailed, ""
	}
}

func (a *App) record(j jobs.Job, submitted, started time.Time, res jobs.Result, err error) {
	outcome, reason := outcomeOf(err)
	run := storage.RunRecord{
		At:      time.Now(),
		Job:     j.Name,
		Queue:   j.Queue,
		Cost:    j.Cost,
		Outcome: outcome,
		Reason:  reason,
		Status:  res.Status,
		TookMS:  res.Took.Milliseconds(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	if !started.IsZero() {
		run.WaitMS = started.Sub(submitted).Milliseconds()
	}

	fields := []logx.Field{
		logx.String("job", j.Name),
		logx.String("queue", j.Queue),
		logx.String("outcome", outcome),
		logx.Int64("wait_ms", run.WaitMS),
		logx.Int64("took_ms", run.TookMS),
	}
	if outcome == storage.OutcomeFailed {
		a.log.Warn("job run failed", append(fields, logx.Err(err))...)
	} else {
		a.log.Debug("job run settled", fields...)
	}

	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(ctx, run); err != nil {
		a.log.Warn("run history append failed", logx.String("job", j.Name), logx.Err(err))
	}
}

func (a *App) recentRuns(ctx context.Context, job string, limit int) (any, error) {
	if a.store == nil {
		return nil, fmt.Errorf("%w: %w", admin.ErrUnavailable, storage.ErrDisabled)
	}
	return a.store.RecentRuns(ctx, job, limit)
}
