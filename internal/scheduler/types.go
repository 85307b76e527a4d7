package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskherder/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

// FireFunc receives every trigger. ctx is the context passed to Start.
// It runs on cron's goroutine and should return quickly.
type FireFunc func(ctx context.Context, name string)

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	entryID       cron.EntryID
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	fire FireFunc

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	defs   []scheduleDef
}

type ScheduleInfo struct {
	Name   string        `json:"name"`
	Spec   string        `json:"spec"`
	Spread time.Duration `json:"spread,omitempty"`
	Next   time.Time     `json:"next"`
	Prev   time.Time     `json:"prev"`
}
