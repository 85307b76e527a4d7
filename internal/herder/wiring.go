package herder

import (
	"fmt"
	"strings"
	"time"

	"taskherder/internal/config"
	"taskherder/internal/observability/admin"
	"taskherder/internal/scheduler"
	"taskherder/internal/storage"
	"taskherder/pkg/logx"
	"taskherder/pkg/taskqueue"
)

const defaultRejectRate = 5

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func rejectRate(cfg *config.Config) float64 {
	if r := cfg.Logging.RejectRatePerSec; r > 0 {
		return r
	}
	return defaultRejectRate
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, KeepPerJob: sc.KeepPerJob}, true, nil
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	ac := cfg.Admin
	return admin.Config{
		Enabled:       ac.Enabled,
		Addr:          strings.TrimSpace(ac.Addr),
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   5 * time.Second,
		IdleTimeout:   2 * time.Minute,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

// queueOverrides returns the full set of limits for host, so a queue never
// depends on the manager defaults captured at startup.
func queueOverrides(cfg *config.Config, host string) []taskqueue.Override {
	qc := cfg.Queues.For(host)
	out := []taskqueue.Override{
		taskqueue.WithBurstLimit(qc.BurstLimit),
		taskqueue.WithSustainRate(qc.SustainRate),
		taskqueue.WithQueueCostLimit(qc.QueueCostLimit),
		taskqueue.WithConcurrency(qc.Concurrency),
	}
	if qc.StartingTokens != nil {
		out = append(out, taskqueue.WithStartingTokens(*qc.StartingTokens))
	}
	return out
}
