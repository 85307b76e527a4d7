package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config are Go duration strings ("250ms", "5s", "1m30s").
// Errors name the config path so a bad job points at jobs[i].

func parseDuration(path, raw string) (d time.Duration, set bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	if d, err = time.ParseDuration(s); err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%s: duration must be >= 0, got %s", path, s)
	}
	return d, true, nil
}

// ParseDurationField parses the duration at path. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	d, _, err := parseDuration(path, raw)
	return d, err
}

// ParseDurationOrDefault returns def when the field is empty or "0s".
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, set, err := parseDuration(path, raw)
	switch {
	case err != nil:
		return 0, err
	case !set || d == 0:
		return def, nil
	default:
		return d, nil
	}
}
