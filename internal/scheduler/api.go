package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskherder/pkg/logx"
)

// Validate reports whether raw is a usable schedule, including the cron
// expression itself.
func Validate(raw string) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := newParser().Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}
	return nil
}

// AddSchedule registers (or replaces) the schedule called name.
func (s *Service) AddSchedule(name, schedule string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	var spec string
	switch ps.Kind {
	case SpecCron:
		spec = ps.Cron
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid cron %q: %w", spec, err)
		}
	case SpecInterval:
		spec = "@every " + ps.Every.String()
	default:
		return fmt.Errorf("unsupported schedule kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so hot reloads never duplicate a schedule.
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec})
	if s.c == nil {
		// Not started yet: registered when Start runs.
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec)}
	if d.startupSpread > 0 {
		args = append(args, logx.Duration("spread", d.startupSpread))
	}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Names returns the registered schedule names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d.name)
	}
	s.mu.Unlock()
	slices.Sort(out)
	return out
}

// Schedules returns the registered schedules with their next/previous run
// times (zero when the scheduler is not running).
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Spread: d.startupSpread}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b ScheduleInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// removeLocked removes all defs matching name. Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	n := len(s.defs)
	s.defs = slices.DeleteFunc(s.defs, func(d scheduleDef) bool {
		if d.name != name {
			return false
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		return true
	})
	return len(s.defs) < n
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name := d.name
	ctx := s.ctx
	job := cron.FuncJob(func() {
		if s.fire == nil || ctx.Err() != nil {
			return
		}
		s.fire(ctx, name)
	})

	// Startup spread applies only to interval schedules.
	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(strings.TrimSpace(every)); err == nil && dur > 0 {
			sched, jitter := intervalWithSpread(dur, time.Now().In(s.loc))
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked lists upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
