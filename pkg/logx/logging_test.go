package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, "info").With(String("comp", "queue"))

	l.Debug("hidden")
	l.Info("admitted", Float64("cost", 2), Duration("wait", time.Second), Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1 (debug must be filtered)", len(lines))
	}
	got := lines[0]
	if got["message"] != "admitted" || got["comp"] != "queue" || got["cost"] != 2.0 || got["err"] != "boom" {
		t.Fatalf("unexpected line: %v", got)
	}
	if _, ok := got["caller"]; !ok {
		t.Fatalf("missing caller: %v", got)
	}
}

func TestLogger_ZeroValueIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger must report IsZero")
	}
	l.Error("dropped")
	Nop().Info("dropped")
}

func TestSampled_DropsAboveBudget(t *testing.T) {
	var buf bytes.Buffer
	l := Sampled(NewJSON(&buf, "info"), 2)

	for i := 0; i < 10; i++ {
		l.Warn("rejected")
	}
	if got := len(decodeLines(t, &buf)); got != 2 {
		t.Fatalf("lines=%d want 2", got)
	}

	// Derived loggers share the budget.
	l.With(String("k", "v")).Warn("rejected")
	if got := len(decodeLines(t, &buf)); got != 2 {
		t.Fatalf("lines=%d want 2 after derived logger", got)
	}
}

func TestSampled_ReportsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	l := Sampled(NewJSON(&buf, "info"), 1)

	l.Warn("first")
	l.Warn("dropped")
	l.Warn("dropped")
	// Make room for one more line.
	l.sampler.lim.SetLimit(1000)
	time.Sleep(5 * time.Millisecond)
	l.Warn("after")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("lines=%d want 2", len(lines))
	}
	if lines[1]["suppressed"] != 2.0 {
		t.Fatalf("suppressed=%v want 2", lines[1]["suppressed"])
	}
}

func TestService_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "herder.log")
	svc, l := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	l.Debug("hello", Int("n", 1))

	svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	l.Info("filtered")
	l.Warn("kept")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"hello"`) || !strings.Contains(s, `"kept"`) || strings.Contains(s, `"filtered"`) {
		t.Fatalf("unexpected file contents:\n%s", s)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}
