package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eargollo/assetindex/internal/scan"
)

type fakeStarter struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (f *fakeStarter) Start(_ context.Context, triggeredBy string) (*scan.ActiveScan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, triggeredBy)
	if f.err != nil {
		return nil, f.err
	}
	return &scan.ActiveScan{ID: int64(len(f.triggers)), StartedAt: time.Now(), TriggeredBy: triggeredBy}, nil
}

type fakePurger struct{ calls int }

func (f *fakePurger) AutoPurge(context.Context) error {
	f.calls++
	return nil
}

func TestSetScanSchedule(t *testing.T) {
	s := New(context.Background(), &fakeStarter{}, nil)
	if err := s.SetScanSchedule("0 2 * * 0"); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	if err := s.SetScanSchedule("not a cron"); err == nil {
		t.Error("expected error for invalid expression")
	}
	if got := s.CronExpr(); got != "0 2 * * 0" {
		t.Errorf("cron expr: got %q, previous schedule should remain", got)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	next := s.NextRunAt()
	if next == nil {
		t.Fatal("next run: got nil")
	}
	if next.Weekday() != time.Sunday || next.Hour() != 2 {
		t.Errorf("next run: got %v, want a Sunday at 02:00", next)
	}

	s.SetPaused(true)
	if s.NextRunAt() != nil {
		t.Error("paused schedule reports a next run")
	}
}

func TestRunScan(t *testing.T) {
	starter := &fakeStarter{}
	s := New(context.Background(), starter, nil)

	s.runScan()
	s.SetPaused(true)
	s.runScan()
	s.SetPaused(false)
	starter.err = scan.ErrAlreadyRunning
	s.runScan()
	starter.err = errors.New("boom")
	s.runScan()

	if len(starter.triggers) != 3 {
		t.Fatalf("starts: got %d, want 3", len(starter.triggers))
	}
	for _, tr := range starter.triggers {
		if tr != "schedule" {
			t.Errorf("trigger: got %q, want schedule", tr)
		}
	}
}

func TestRunPurge(t *testing.T) {
	p := &fakePurger{}
	s := New(context.Background(), &fakeStarter{}, p)
	s.runPurge()
	if p.calls != 1 {
		t.Errorf("purge calls: got %d, want 1", p.calls)
	}
}
