package config

import (
	"sort"
	"strings"

	"taskherder/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the hosts whose effective queue
// limits changed (override added, removed or edited, or defaults changed).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.RejectRatePerSec != newCfg.Logging.RejectRatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Float64("logx.reject_rate_per_sec", newCfg.Logging.RejectRatePerSec),
		)
	}

	// Queues
	defaultsChanged := hashJSON(oldCfg.Queues.Defaults) != hashJSON(newCfg.Queues.Defaults)
	hosts := diffOverrides(oldCfg.Queues, newCfg.Queues)
	if defaultsChanged || len(hosts) > 0 {
		changed = append(changed, "queues")
		attrs = append(attrs,
			logx.Bool("queues.defaults_changed", defaultsChanged),
			logx.Int("queues.hosts_changed", len(hosts)),
			logx.Int("queues.override_count", len(newCfg.Queues.Overrides)),
		)
	}

	// Scheduler
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Storage (nil means disabled)
	if hashJSON(oldCfg.Storage) != hashJSON(newCfg.Storage) {
		changed = append(changed, "storage")
		var driver string
		var pathSet bool
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
			pathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
		}
		attrs = append(attrs,
			logx.String("storage.driver", driver),
			logx.Bool("storage.path_set", pathSet),
			logx.Bool("storage.restart_required", true),
		)
	}

	// Admin
	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.Addr),
			logx.Bool("admin.token_set", newCfg.Admin.Token != ""),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}

	// Jobs
	if jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs); len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobs)),
			logx.Int("jobs.total", len(newCfg.Jobs)),
			logx.String("jobs.changed", strings.Join(jobs, ",")),
		)
	}

	sort.Strings(changed)
	return changed, attrs, hosts
}

func diffOverrides(oldQ, newQ QueuesConfig) []string {
	set := map[string]struct{}{}
	for k := range oldQ.Overrides {
		set[k] = struct{}{}
	}
	for k := range newQ.Overrides {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for host := range set {
		if hashJSON(oldQ.For(host)) != hashJSON(newQ.For(host)) {
			out = append(out, host)
		}
	}
	sort.Strings(out)
	return out
}

// diffJobs returns the names of jobs that were added, removed or edited.
func diffJobs(oldJ, newJ []JobConfig) []string {
	index := func(js []JobConfig) map[string]uint64 {
		m := make(map[string]uint64, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Name)] = hashJSON(j)
		}
		return m
	}
	o, n := index(oldJ), index(newJ)

	var out []string
	for name, h := range n {
		if oh, ok := o[name]; !ok || oh != h {
			out = append(out, name)
		}
	}
	for name := range o {
		if _, ok := n[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
