package herder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"taskherder/internal/config"
	"taskherder/internal/eventbus"
	"taskherder/internal/observability/admin"
	rtsup "taskherder/internal/runtime/supervisor"
	"taskherder/internal/scheduler"
	"taskherder/internal/storage"
	"taskherder/pkg/logx"
	"taskherder/pkg/taskqueue"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	warn  atomic.Pointer[logx.Logger] // sampled, for rejection floods
	bus   eventbus.Bus
	store storage.Store

	queues *taskqueue.Manager[string]
	sched  *scheduler.Service
	admin  *admin.Service
	client *http.Client

	mu   sync.Mutex
	cfg  *config.Config // last applied
	jobs map[string]*jobState

	// runs tracks goroutines waiting on futures; retired tracks background
	// closes of replaced queues.
	runs    sync.WaitGroup
	retired sync.WaitGroup
}

// NewApp loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateJobs(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:   cfgm,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    eventbus.New(),
		client: &http.Client{},
		cfg:    cfg,
		jobs:   map[string]*jobState{},
	}
	a.setWarnRate(rejectRate(cfg))

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
	}

	a.queues = taskqueue.NewManager[string](taskqueue.Options{
		Observer: taskqueue.ObserverFunc(a.observe),
	}, nil)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.trigger, log.With(logx.String("comp", "scheduler")))
	a.admin = admin.New(mapAdminConfig(cfg), admin.Sources{
		Status: func() any { return a.Status() },
		Runs:   a.recentRuns,
	}, log.With(logx.String("comp", "admin")))

	if err := a.registerJobs(cfg); err != nil {
		_ = a.closeStore()
		return nil, err
	}
	return a, nil
}

func (a *App) setWarnRate(perSec float64) {
	l := logx.Sampled(a.log.With(logx.String("comp", "queue")), perSec)
	a.warn.Store(&l)
}

func (a *App) warnLog() logx.Logger { return *a.warn.Load() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Queues exposes the per-host queue manager.
func (a *App) Queues() *taskqueue.Manager[string] { return a.queues }

// Bus exposes the lifecycle event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Transactional reload: a config whose jobs cannot be built is never published.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := validateJobs(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if a.sched.Enabled() {
		a.sched.Start(c)
	}
	if a.admin.Enabled() {
		a.admin.Start(c)
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug-level; frequent schedules would be noisy otherwise.
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("app started",
		logx.Int("jobs", len(a.jobNames())),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// Stop shuts down in dependency order. Each step is bounded; a stuck step is
// logged and skipped.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.closeStore()
	}
	a.log.Info("stopping")

	// Cancelling the run context aborts every pending submission.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("queues", 10*time.Second, func(c context.Context) error {
		err := a.queues.Close(c)
		return errors.Join(err, waitGroup(c, &a.retired))
	})
	step("recorders", 2*time.Second, func(c context.Context) error { return waitGroup(c, &a.runs) })
	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
