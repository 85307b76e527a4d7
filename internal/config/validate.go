package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validate checks values that the strict decoder cannot. Every error is
// prefixed with the config path of the offending field. Schedule expressions
// are checked by the scheduler when jobs are registered.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Logging.RejectRatePerSec < 0 {
		add(errors.New("logging.reject_rate_per_sec: must be >= 0"))
	}

	add(validateQueue("queues.defaults", cfg.Queues.Defaults))
	for host := range cfg.Queues.Overrides {
		if strings.TrimSpace(host) == "" {
			add(errors.New("queues.overrides: empty host key"))
			continue
		}
		add(validateQueue("queues.overrides."+host, cfg.Queues.For(host)))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			add(err)
		}
		if s.KeepPerJob < 0 {
			add(errors.New("storage.keep_per_job: must be >= 0"))
		}
	}

	if a := cfg.Admin; a.Enabled && strings.TrimSpace(a.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(a.Addr)); err != nil {
			add(fmt.Errorf("admin.addr: %w", err))
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", path))
		} else if seen[name] {
			add(fmt.Errorf("%s.name: duplicate job %q", path, name))
		}
		seen[name] = true

		if strings.TrimSpace(j.Schedule) == "" {
			add(fmt.Errorf("%s.schedule: required", path))
		}
		if c := j.EffectiveCost(); c < 0 || math.IsNaN(c) {
			add(fmt.Errorf("%s.cost: must be >= 0", path))
		}
		if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
			add(err)
		}

		switch j.KindOrDefault() {
		case JobKindHTTP:
			u, err := url.Parse(strings.TrimSpace(j.URL))
			if err != nil || u.Scheme == "" || u.Host == "" {
				add(fmt.Errorf("%s.url: must be an absolute http(s) URL", path))
			}
			if j.ExpectStatus != 0 && (j.ExpectStatus < 100 || j.ExpectStatus > 599) {
				add(fmt.Errorf("%s.expect_status: invalid HTTP status %d", path, j.ExpectStatus))
			}
		case JobKindSleep:
			if _, err := ParseDurationField(path+".duration", j.Duration); err != nil {
				add(err)
			}
			if strings.TrimSpace(j.Queue) == "" {
				add(fmt.Errorf("%s.queue: required for sleep jobs", path))
			}
		default:
			add(fmt.Errorf("%s.kind: unknown kind %q", path, j.Kind))
		}
	}

	return errors.Join(errs...)
}

func validateQueue(path string, q QueueConfig) error {
	var errs []error
	if q.BurstLimit <= 0 || math.IsNaN(q.BurstLimit) {
		errs = append(errs, fmt.Errorf("%s.burst_limit: must be > 0", path))
	}
	if q.SustainRate < 0 || math.IsNaN(q.SustainRate) {
		errs = append(errs, fmt.Errorf("%s.sustain_rate: must be >= 0", path))
	}
	if q.StartingTokens != nil && *q.StartingTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.starting_tokens: must be >= 0", path))
	}
	if q.QueueCostLimit < 0 {
		errs = append(errs, fmt.Errorf("%s.queue_cost_limit: must be >= 0 (0 = unbounded)", path))
	}
	if q.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("%s.concurrency: must be >= 0", path))
	}
	return errors.Join(errs...)
}
