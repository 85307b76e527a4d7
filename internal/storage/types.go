package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl, compacted in place)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// KeepPerJob bounds how many runs per job the file driver keeps across
	// compactions. Default: 200.
	KeepPerJob int
}

// Run outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)

// RunRecord is the outcome of one job run. Only settled runs are recorded;
// pending work is never persisted.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Job     string    `json:"job"`
	Queue   string    `json:"queue"`
	Cost    float64   `json:"cost"`
	Outcome string    `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
	Status  int       `json:"status,omitempty"`
	WaitMS  int64     `json:"wait_ms"`
	TookMS  int64     `json:"took_ms"`
}

// NewRunID returns a time-ordered run ID.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (r *RunRecord) fill() {
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
}
