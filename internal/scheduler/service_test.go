package scheduler

import (
	"context"
	"slices"
	"testing"
	"time"

	"taskherder/pkg/logx"
)

func TestAddScheduleUpsertAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, logx.Nop())

	if err := s.AddSchedule("", "1m"); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := s.AddSchedule("a", "bogus"); err == nil {
		t.Fatalf("bad schedule accepted")
	}
	if err := s.AddSchedule("a", "* * *"); err == nil {
		t.Fatalf("bad cron accepted")
	}
	for _, spec := range []string{"1m", "*/5 * * * *"} {
		if err := s.AddSchedule("a", spec); err != nil {
			t.Fatalf("AddSchedule(a, %q): %v", spec, err)
		}
	}
	if err := s.AddSchedule("b", "02:00"); err != nil {
		t.Fatalf("AddSchedule(b): %v", err)
	}

	infos := s.Schedules()
	if len(infos) != 2 || infos[0].Name != "a" || infos[0].Spec != "*/5 * * * *" || infos[1].Spec != "@every 2h0m0s" {
		t.Fatalf("Schedules() = %+v", infos)
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatalf("Remove(a) should succeed exactly once")
	}
	if got := s.Names(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("Names() = %v", got)
	}
}

func TestStartFiresAndStop(t *testing.T) {
	t.Parallel()
	fired := make(chan string, 8)
	s := New(Config{Enabled: true}, func(ctx context.Context, name string) {
		select {
		case fired <- name:
		default:
		}
	}, logx.Nop())

	// 6-field cron with seconds fires within a second.
	if err := s.AddSchedule("tick", "* * * * * *"); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case name := <-fired:
		if name != "tick" {
			t.Fatalf("fired %q, want tick", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("schedule never fired")
	}
	if infos := s.Schedules(); infos[0].Next.IsZero() {
		t.Fatalf("running schedule has no next run")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if infos := s.Schedules(); !infos[0].Next.IsZero() {
		t.Fatalf("stopped schedule still reports next run")
	}
}

func TestIntervalSpreadBounded(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, every := range []time.Duration{time.Second, time.Minute, time.Hour} {
		sched, jitter := intervalWithSpread(every, now)
		if jitter < 0 || jitter >= min(every, maxStartupSpread) {
			t.Fatalf("every %v: jitter %v out of range", every, jitter)
		}
		first := sched.Next(now)
		if want := now.Add(every + jitter); !first.Equal(want) {
			t.Fatalf("every %v: first = %v, want %v", every, first, want)
		}
		// cron.Every rounds to whole seconds after the first run.
		if gap := sched.Next(first).Sub(first); gap <= 0 || gap > every {
			t.Fatalf("every %v: second run after %v", every, gap)
		}
	}
}
