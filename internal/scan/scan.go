package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eargollo/assetindex/internal/asset"
	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/index"
	"github.com/eargollo/assetindex/internal/metrics"
)

// RunRecorder keeps a ledger of scan runs. Failures are logged, never fatal.
type RunRecorder interface {
	Begin(ctx context.Context, startedAt time.Time, triggeredBy string) (int64, error)
	Finish(ctx context.Context, summary RunSummary) error
}

type nopRecorder struct{}

func (nopRecorder) Begin(context.Context, time.Time, string) (int64, error) { return 0, nil }
func (nopRecorder) Finish(context.Context, RunSummary) error                { return nil }

// run executes one scan and returns the manager to idle.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, active ActiveScan, cfg Config, done chan struct{}) {
	defer close(done)
	defer cancel()

	slog.Info("scan started", "id", active.ID, "triggered_by", active.TriggeredBy)
	metrics.ScanRunning.Set(1)
	defer metrics.ScanRunning.Set(0)

	runErr := m.execute(ctx, active.Progress, cfg)

	outcome := OutcomeCompleted
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
	} else if runErr != nil {
		outcome = OutcomeFailed
	}

	// Final persist, whatever the outcome.
	m.checkpoint()
	active.Progress.Checkpoints.Add(1)

	groups := m.Groups()
	summary := RunSummary{
		ID:          active.ID,
		StartedAt:   active.StartedAt,
		FinishedAt:  time.Now(),
		TriggeredBy: active.TriggeredBy,
		Outcome:     outcome,
		Totals:      dedup.Summarize(groups),
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		summary.Error = runErr.Error()
		slog.Error("scan run error", "id", active.ID, "error", runErr)
	}

	m.mu.Lock()
	summary.Progress = active.Progress.Snapshot(StateIdle)
	m.last = &summary
	m.active = nil
	m.cancelFn = nil
	m.state = StateIdle
	m.paused.Store(false)
	m.mu.Unlock()
	m.publish()

	if err := m.recorder.Finish(context.Background(), summary); err != nil {
		slog.Error("finalise scan record", "id", active.ID, "error", err)
	}
	metrics.ScansTotal.WithLabelValues(string(outcome)).Inc()
	metrics.DuplicateGroups.Set(float64(summary.Totals.Groups))
	metrics.ReclaimableBytes.Set(float64(summary.Totals.ReclaimableBytes))

	slog.Info("scan finished", "id", active.ID, "outcome", outcome,
		"metadata", summary.Progress.Metadata,
		"candidates", summary.Progress.Candidates,
		"fingerprinted", summary.Progress.Fingerprinted,
		"duplicate_groups", summary.Totals.Groups)
}

// execute runs both phases. It returns ctx.Err() when cancelled.
func (m *Manager) execute(ctx context.Context, progress *Progress, cfg Config) error {
	// Phase 1: metadata collection.
	progress.SetPhase(PhaseMetadata)
	m.publish()

	refs, err := m.provider.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerate assets: %w", err)
	}
	progress.Total.Store(int64(len(refs)))

	// Provider calls run under a non-cancellable context: an item, once
	// started, completes before cancellation takes effect.
	itemCtx := context.WithoutCancel(ctx)

	byID := make(map[string]asset.Ref, len(refs))
	for _, ref := range refs {
		if err := m.waitIfPaused(ctx, cfg.PollInterval); err != nil {
			return err
		}
		byID[ref.ID] = ref

		rec := BuildRecord(itemCtx, m.provider, ref)
		m.storeMetadata(rec)
		progress.Metadata.Add(1)
		if !rec.IsLocal {
			progress.Remote.Add(1)
		}
		metrics.ItemsProcessed.WithLabelValues(string(PhaseMetadata)).Inc()
		m.advance(progress, cfg)
	}
	m.checkpoint()
	progress.Checkpoints.Add(1)

	// Phase 2: fingerprint the candidates.
	candidates := dedup.SelectCandidates(m.Records())
	progress.Candidates.Store(int64(len(candidates)))
	progress.Total.Store(int64(len(refs) + len(candidates)))
	progress.SetPhase(PhaseFingerprint)
	m.publish()
	slog.Info("scan: metadata collected", "assets", len(refs), "candidates", len(candidates))

	for _, id := range candidates {
		if err := m.waitIfPaused(ctx, cfg.PollInterval); err != nil {
			return err
		}
		m.fingerprintOne(itemCtx, id, byID, progress, cfg.LocalOnly)
		metrics.ItemsProcessed.WithLabelValues(string(PhaseFingerprint)).Inc()
		m.advance(progress, cfg)
	}
	m.checkpoint()
	progress.Checkpoints.Add(1)
	return nil
}

// advance counts one processed item and checkpoints on the cadence.
func (m *Manager) advance(progress *Progress, cfg Config) {
	n := progress.Scanned.Add(1)
	if n%int64(cfg.CheckpointEvery) == 0 {
		m.checkpoint()
		progress.Checkpoints.Add(1)
	}
	m.publish()
}

func (m *Manager) fingerprintOne(ctx context.Context, id string, byID map[string]asset.Ref, progress *Progress, localOnly bool) {
	m.mu.Lock()
	rec, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return // deleted meanwhile
	}
	if rec.HasFingerprint() {
		progress.AlreadyKnown.Add(1)
		return
	}

	ref, ok := byID[id]
	if !ok {
		ref = refFromRecord(rec)
	}
	hash, err := m.fp.Fingerprint(ctx, ref, localOnly)
	if err != nil {
		progress.Errors.Add(1)
		metrics.FingerprintErrors.Inc()
		if errors.Is(err, ErrRemoteBytes) || errors.Is(err, asset.ErrRemoteNotAllowed) {
			slog.Debug("scan: skipped remote asset", "id", id)
		} else {
			slog.Warn("scan: fingerprint failed", "id", id, "error", err)
		}
		return
	}
	m.storeFingerprint(id, hash)
	progress.Fingerprinted.Add(1)
}

// storeMetadata merges a phase-1 record, keeping any known fingerprint.
// Identifiers deleted during this scan are not resurrected.
func (m *Manager) storeMetadata(rec index.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, gone := m.tombstones[rec.ID]; gone {
		return
	}
	prev, found := m.records[rec.ID]
	m.records[rec.ID] = mergeMetadata(prev, found, rec)
}

func (m *Manager) storeFingerprint(id, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return
	}
	rec.Fingerprint = hash
	m.records[id] = rec
}

// waitIfPaused blocks while the pause flag is set, polling it every
// interval. Cancellation is honoured immediately, paused or not.
func (m *Manager) waitIfPaused(ctx context.Context, interval time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.paused.Load() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for m.paused.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ctx.Err()
}

func publishIndexGauges(records map[string]index.Record) {
	var fingerprinted int
	for _, r := range records {
		if r.HasFingerprint() {
			fingerprinted++
		}
	}
	metrics.IndexRecords.WithLabelValues("all").Set(float64(len(records)))
	metrics.IndexRecords.WithLabelValues("fingerprinted").Set(float64(fingerprinted))
}
