package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: info
  console: true
  file: {enabled: false, path: ./herder.log}
queues:
  defaults: {burst_limit: 10, sustain_rate: 1, concurrency: 1}
  overrides:
    device-a.local: {burst_limit: 2, sustain_rate: 0.5}
scheduler: {enabled: true}
storage: {driver: file, path: ./data/herder}
admin: {enabled: true, addr: "127.0.0.1:0", pprof: true}
jobs:
  - name: poll-device-a
    schedule: "30s"
    kind: http
    url: http://device-a.local/status
    cost: 2
    timeout: 5s
  - name: warmup
    schedule: "@every 1m"
    kind: sleep
    duration: 100ms
    queue: local
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDecode_YAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[0].EffectiveCost() != 2 || cfg.Jobs[1].EffectiveCost() != 1 {
		t.Fatalf("unexpected jobs: %+v", cfg.Jobs)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}

	q := cfg.Queues.For("device-a.local")
	if q.BurstLimit != 2 || q.SustainRate != 0.5 || q.Concurrency != 1 {
		t.Fatalf("override not merged: %+v", q)
	}
	if d := cfg.Queues.For("other"); d.BurstLimit != 10 {
		t.Fatalf("defaults not used for unknown host: %+v", d)
	}
}

func TestDecode_JSONAndStrictness(t *testing.T) {
	t.Parallel()

	ok := `{"queues":{"defaults":{"burst_limit":1,"sustain_rate":1}},"jobs":[]}`
	if _, err := Decode("config.json", []byte(ok)); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "c.json", `{"queues":{"defaults":{"burst_limit":1}},"bogus":1}`},
		{"unknown yaml field", "c.yaml", "queues:\n  defaults: {burst_limit: 1, burst: 2}\n"},
		{"trailing data", "c.json", ok + ok},
		{"bad yaml", "c.yml", "queues: [\n"},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Queues: QueuesConfig{Defaults: QueueConfig{BurstLimit: 5, SustainRate: 1}}}
	}
	neg := -1.0
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"ok", func(*Config) {}, ""},
		{"burst", func(c *Config) { c.Queues.Defaults.BurstLimit = 0 }, "queues.defaults.burst_limit"},
		{"rate", func(c *Config) { c.Queues.Defaults.SustainRate = -1 }, "queues.defaults.sustain_rate"},
		{"override", func(c *Config) {
			c.Queues.Overrides = map[string]QueueOverride{"h": {StartingTokens: &neg}}
		}, "queues.overrides.h.starting_tokens"},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"job name", func(c *Config) {
			c.Jobs = []JobConfig{{Schedule: "1m", URL: "http://h/"}}
		}, "jobs[0].name"},
		{"duplicate", func(c *Config) {
			j := JobConfig{Name: "a", Schedule: "1m", URL: "http://h/"}
			c.Jobs = []JobConfig{j, j}
		}, "jobs[1].name"},
		{"url", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "a", Schedule: "1m", URL: "not a url"}}
		}, "jobs[0].url"},
		{"kind", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "a", Schedule: "1m", Kind: "ftp"}}
		}, "jobs[0].kind"},
		{"timeout", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "a", Schedule: "1m", URL: "http://h/", Timeout: "soon"}}
		}, "jobs[0].timeout"},
		{"cost", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "a", Schedule: "1m", URL: "http://h/", Cost: &neg}}
		}, "jobs[0].cost"},
		{"sleep queue", func(c *Config) {
			c.Jobs = []JobConfig{{Name: "a", Schedule: "1m", Kind: "sleep"}}
		}, "jobs[0].queue"},
		{"keep per job", func(c *Config) { c.Storage = &StorageConfig{Driver: "file", KeepPerJob: -1} }, "storage.keep_per_job"},
		{"admin addr", func(c *Config) { c.Admin = AdminConfig{Enabled: true, Addr: "localhost"} }, "admin.addr"},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mut(cfg)
		err := Validate(cfg)
		if tt.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err=%v want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 5s "); err != nil || d != 5*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("jobs[0].timeout", "-1s"); err == nil || !strings.HasPrefix(err.Error(), "jobs[0].timeout") {
		t.Fatalf("negative: err=%v", err)
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("default: got %v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	newCfg, _ := Decode("c.yaml", []byte(sampleYAML))

	if changed, _, hosts := SummarizeConfigChange(oldCfg, newCfg); len(changed) != 0 || len(hosts) != 0 {
		t.Fatalf("identical configs reported changes: %v %v", changed, hosts)
	}

	burst := 4.0
	newCfg.Queues.Overrides["device-b.local"] = QueueOverride{BurstLimit: &burst}
	newCfg.Logging.Level = "debug"
	newCfg.Jobs = newCfg.Jobs[:1]
	newCfg.Admin.Token = "secret"

	changed, attrs, hosts := SummarizeConfigChange(oldCfg, newCfg)
	if !slices.Equal(changed, []string{"admin", "jobs", "logging", "queues"}) {
		t.Fatalf("changed=%v", changed)
	}
	if !slices.Equal(hosts, []string{"device-b.local"}) {
		t.Fatalf("hosts=%v", hosts)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected log attrs")
	}
}

func TestConfigManager_Reload(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	ctx := context.Background()

	if published, err := m.Reload(ctx); err != nil || published {
		t.Fatalf("unchanged reload: published=%v err=%v", published, err)
	}

	updated := strings.Replace(sampleYAML, "level: info", "level: debug", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if published, err := m.Reload(ctx); err != nil || !published {
		t.Fatalf("changed reload: published=%v err=%v", published, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level=%q", cfg.Logging.Level)
		}
	default:
		t.Fatalf("subscriber got nothing")
	}

	reject := errors.New("nope")
	m.SetValidator(func(context.Context, *Config) error { return reject })
	if err := os.WriteFile(path, []byte(strings.Replace(updated, "level: debug", "level: warn", 1)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.Reload(ctx); !errors.Is(err, reject) {
		t.Fatalf("err=%v want %v", err, reject)
	}
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("rejected config was committed (level=%q)", got)
	}

	if err := os.WriteFile(path, []byte("queues: {defaults: {burst_limit: 0}}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.Reload(ctx); err == nil {
		t.Fatalf("invalid config must not reload")
	}
}

func TestConfigManager_Watch(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Rewrite until the watcher (which starts asynchronously) notices. Each
	// write restarts the debounce, so writes must be spaced wider than it.
	updated := strings.Replace(sampleYAML, "level: info", "level: warn", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(2 * reloadDebounce)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "warn" {
				t.Fatalf("level=%q want warn", cfg.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte(updated), 0o644)
		case <-deadline:
			t.Fatalf("watcher never published the change")
		}
	}
}
