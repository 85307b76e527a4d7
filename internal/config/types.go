package config

import "strings"

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Queues configures one token-bucket queue per target host.
	Queues QueuesConfig `json:"queues"`

	// Scheduler controls job triggers (cron/interval/daily).
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage is optional. If omitted, run outcomes are only logged.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Admin is the optional status/pprof HTTP server.
	Admin AdminConfig `json:"admin"`

	Jobs []JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`

	// RejectRatePerSec bounds how many queue rejection/cancellation warnings
	// are written per second. Default: 5.
	RejectRatePerSec float64 `json:"reject_rate_per_sec,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// QueueConfig holds the limits of one queue.
//
// Defaults (when fields are omitted/zero):
//   - starting_tokens: burst_limit (full bucket)
//   - queue_cost_limit: 0 (unbounded)
//   - concurrency: 1
type QueueConfig struct {
	BurstLimit     float64  `json:"burst_limit"`
	SustainRate    float64  `json:"sustain_rate"`
	StartingTokens *float64 `json:"starting_tokens,omitempty"`
	QueueCostLimit float64  `json:"queue_cost_limit,omitempty"`
	Concurrency    int      `json:"concurrency,omitempty"`
}

// QueueOverride replaces selected default limits for one host.
// Fields are pointers so we can distinguish "omitted" from an explicit zero.
type QueueOverride struct {
	BurstLimit     *float64 `json:"burst_limit,omitempty"`
	SustainRate    *float64 `json:"sustain_rate,omitempty"`
	StartingTokens *float64 `json:"starting_tokens,omitempty"`
	QueueCostLimit *float64 `json:"queue_cost_limit,omitempty"`
	Concurrency    *int     `json:"concurrency,omitempty"`
}

type QueuesConfig struct {
	Defaults  QueueConfig              `json:"defaults"`
	Overrides map[string]QueueOverride `json:"overrides,omitempty"`
}

// For returns the effective limits for host: the defaults with the host's
// override (if any) applied on top.
func (q QueuesConfig) For(host string) QueueConfig {
	out := q.Defaults
	ov, ok := q.Overrides[host]
	if !ok {
		return out
	}
	if ov.BurstLimit != nil {
		out.BurstLimit = *ov.BurstLimit
	}
	if ov.SustainRate != nil {
		out.SustainRate = *ov.SustainRate
	}
	if ov.StartingTokens != nil {
		v := *ov.StartingTokens
		out.StartingTokens = &v
	}
	if ov.QueueCostLimit != nil {
		out.QueueCostLimit = *ov.QueueCostLimit
	}
	if ov.Concurrency != nil {
		out.Concurrency = *ov.Concurrency
	}
	return out
}

// SchedulerConfig controls the scheduler (trigger) service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone. Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the run history store.
//
// Example:
//
//	storage: { driver: file, path: ./data/herder }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// KeepPerJob bounds the retained history per job. Default: 200.
	KeepPerJob int `json:"keep_per_job,omitempty"`
}

// AdminConfig controls the status HTTP server.
//
// Security:
//   - Prefer binding to localhost (default 127.0.0.1:6061).
//   - Binding to a non-loopback address requires Token or AllowInsecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}

// Job kinds.
const (
	JobKindHTTP  = "http"
	JobKindSleep = "sleep"
)

// JobConfig describes one scheduled job. Each trigger submits one run to the
// queue named by Queue (default: the host of URL).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Kind     string `json:"kind"`

	// http
	URL          string `json:"url,omitempty"`
	Method       string `json:"method,omitempty"`        // default GET
	ExpectStatus int    `json:"expect_status,omitempty"` // default: any 2xx

	// sleep
	Duration string `json:"duration,omitempty"`

	// Cost in tokens. Default 1.
	Cost    *float64 `json:"cost,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
	Queue   string   `json:"queue,omitempty"`

	// AllowOverlap submits a run even while the previous one is still
	// queued or running. By default such triggers are skipped.
	AllowOverlap bool `json:"allow_overlap,omitempty"`
}

// EffectiveCost returns the job's cost, defaulting to 1.
func (j JobConfig) EffectiveCost() float64 {
	if j.Cost == nil {
		return 1
	}
	return *j.Cost
}

func (j JobConfig) KindOrDefault() string {
	k := strings.ToLower(strings.TrimSpace(j.Kind))
	if k == "" {
		return JobKindHTTP
	}
	return k
}
