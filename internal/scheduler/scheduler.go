package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eargollo/assetindex/internal/scan"
)

// PurgeSchedule is when expired trash is removed.
const PurgeSchedule = "@hourly"

// Starter launches a scan.
type Starter interface {
	Start(ctx context.Context, triggeredBy string) (*scan.ActiveScan, error)
}

// Purger removes expired trash.
type Purger interface {
	AutoPurge(ctx context.Context) error
}

// Scheduler wraps robfig/cron: it starts scans on a cron expression and
// purges expired trash in the background.
type Scheduler struct {
	starter Starter
	purger  Purger

	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
	paused   bool
	ctx      context.Context
}

// New creates a stopped Scheduler. purger may be nil. Call Start to
// activate it.
func New(ctx context.Context, starter Starter, purger Purger) *Scheduler {
	return &Scheduler{
		starter: starter,
		purger:  purger,
		c:       cron.New(),
		ctx:     ctx,
	}
}

// SetScanSchedule replaces the scan job with the given cron expression.
// If the scheduler is already running, the new schedule takes effect
// immediately. An invalid expression leaves the previous schedule in place.
func (s *Scheduler) SetScanSchedule(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.c.AddFunc(expr, s.runScan)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	s.entryID = id
	s.cronExpr = expr
	slog.Info("scheduler: scan job set", "cron", expr)
	return nil
}

// SetPaused suspends or re-enables scheduled scans. Manual scans are not
// affected.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Paused reports whether scheduled scans are suspended.
func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Start adds the trash purge job and begins the cron loop.
func (s *Scheduler) Start() error {
	if s.purger != nil {
		if _, err := s.c.AddFunc(PurgeSchedule, s.runPurge); err != nil {
			return fmt.Errorf("add purge job: %w", err)
		}
	}
	s.c.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// NextRunAt returns the next scheduled scan time, or nil if no job is set
// or scheduled scans are paused.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 || s.paused {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current scan cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}

func (s *Scheduler) runScan() {
	if s.Paused() {
		slog.Info("scheduler: scheduled scan skipped, schedule paused")
		return
	}
	active, err := s.starter.Start(s.ctx, "schedule")
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		slog.Info("scheduler: scheduled scan skipped, scan already running")
	case err != nil:
		slog.Error("scheduler: start scan", "error", err)
	default:
		slog.Info("scheduler: scan started", "id", active.ID)
	}
}

func (s *Scheduler) runPurge() {
	if err := s.purger.AutoPurge(s.ctx); err != nil {
		slog.Error("scheduler: auto-purge", "error", err)
	}
}
