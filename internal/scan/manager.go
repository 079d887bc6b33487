package scan

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eargollo/assetindex/internal/asset"
	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/index"
	"github.com/eargollo/assetindex/internal/metrics"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned when pause, resume or cancel is called with no
// scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// RecordStore is the durable home of the record map.
type RecordStore interface {
	Load() map[string]index.Record
	Save(records map[string]index.Record)
}

// Config holds orchestrator tuning parameters.
type Config struct {
	// CheckpointEvery is the number of processed items between saves.
	CheckpointEvery int
	// PollInterval is how often a paused scan re-checks the pause flag.
	PollInterval time.Duration
	// LocalOnly keeps phase 2 from fetching remote bytes.
	LocalOnly bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckpointEvery: 25,
		PollInterval:    200 * time.Millisecond,
		LocalOnly:       true,
	}
}

// ActiveScan holds live information about the running scan.
type ActiveScan struct {
	ID          int64
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// RunSummary describes the most recently finished scan.
type RunSummary struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	TriggeredBy string
	Outcome     Outcome
	Error       string
	Progress    Snapshot
	Totals      dedup.Totals
}

// Manager is the scan orchestrator. It owns the in-memory record map, runs
// at most one two-phase scan at a time and serializes deletions against the
// scan's own writes. It is safe for concurrent use.
type Manager struct {
	provider asset.Provider
	store    RecordStore
	fp       *Fingerprinter
	recorder RunRecorder

	cfgMu sync.Mutex
	cfg   Config

	// mu guards everything below.
	mu         sync.Mutex
	records    map[string]index.Record
	tombstones map[string]struct{} // deleted during the active scan
	state      State
	active     *ActiveScan
	cancelFn   context.CancelFunc
	done       chan struct{}
	last       *RunSummary

	paused  atomic.Bool
	updates chan Snapshot

	// saveMu orders snapshots and writes so the newest state is saved last.
	saveMu sync.Mutex
}

// Option customises a Manager.
type Option func(*Manager)

// WithRecorder makes the manager log every run through r.
func WithRecorder(r RunRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates an idle Manager and loads the record map from store.
func NewManager(p asset.Provider, store RecordStore, cfg Config, opts ...Option) *Manager {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultConfig().CheckpointEvery
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	m := &Manager{
		provider:   p,
		store:      store,
		fp:         NewFingerprinter(p),
		recorder:   nopRecorder{},
		cfg:        cfg,
		records:    store.Load(),
		tombstones: make(map[string]struct{}),
		state:      StateIdle,
		updates:    make(chan Snapshot, 1),
	}
	for _, o := range opts {
		o(m)
	}
	publishIndexGauges(m.records)
	return m
}

// UpdateConfig replaces the tuning used for future scans.
// It does NOT affect a currently running scan.
func (m *Manager) UpdateConfig(cfg Config) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	if cfg.CheckpointEvery > 0 {
		m.cfg.CheckpointEvery = cfg.CheckpointEvery
	}
	if cfg.PollInterval > 0 {
		m.cfg.PollInterval = cfg.PollInterval
	}
	m.cfg.LocalOnly = cfg.LocalOnly
}

func (m *Manager) config() Config {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.cfg
}

// Start launches an asynchronous scan. It does nothing and returns
// ErrAlreadyRunning if a scan is running or paused.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	startedAt := time.Now()
	scanID, err := m.recorder.Begin(parentCtx, startedAt, triggeredBy)
	if err != nil {
		// History is best-effort; the scan itself must not depend on it.
		slog.Warn("scan: record start", "error", err)
	}

	progress := &Progress{}
	scanCtx, cancel := context.WithCancel(parentCtx)
	active := &ActiveScan{
		ID:          scanID,
		StartedAt:   startedAt,
		TriggeredBy: triggeredBy,
		Progress:    progress,
	}

	m.paused.Store(false)
	m.active = active
	m.cancelFn = cancel
	m.state = StateRunning
	m.done = make(chan struct{})
	clear(m.tombstones)

	go m.run(scanCtx, cancel, *active, m.config(), m.done)

	snap := *active
	return &snap, nil
}

// Pause suspends forward progress of the running scan at the next item
// boundary. Pausing an already paused scan is a no-op.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoActiveScan
	}
	m.paused.Store(true)
	m.state = StatePaused
	m.publishLocked()
	slog.Info("scan paused", "id", m.active.ID)
	return nil
}

// Resume lets a paused scan continue. Resuming a running scan is a no-op.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNoActiveScan
	}
	m.paused.Store(false)
	m.state = StateRunning
	m.publishLocked()
	slog.Info("scan resumed", "id", m.active.ID)
	return nil
}

// Cancel requests cooperative cancellation of the running scan. The scan
// stops at the next item boundary, persists its progress and returns the
// manager to idle.
func (m *Manager) Cancel() (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveScan
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// Wait blocks until the current scan, if any, has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveScan returns a snapshot of the running scan, or nil when idle.
func (m *Manager) ActiveScan() *ActiveScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// LastRun returns the summary of the most recently finished scan, or nil.
func (m *Manager) LastRun() *RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	s := *m.last
	return &s
}

// Progress returns a snapshot of the current (or, when idle, the last)
// scan's progress.
func (m *Manager) Progress() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	if m.active != nil {
		return m.active.Progress.Snapshot(m.state)
	}
	if m.last != nil {
		s := m.last.Progress
		s.State = m.state
		return s
	}
	return Snapshot{State: m.state}
}

// Updates returns the single-consumer progress channel. It always holds at
// most the latest snapshot; older ones are dropped if nobody is reading.
func (m *Manager) Updates() <-chan Snapshot {
	return m.updates
}

func (m *Manager) publish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked()
}

func (m *Manager) publishLocked() {
	snap := m.snapshotLocked()
	for {
		select {
		case m.updates <- snap:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// Records returns a copy of the record map.
func (m *Manager) Records() map[string]index.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.records)
}

// Groups returns the current duplicate groups. It is a pure read of the
// in-memory map and performs no I/O.
func (m *Manager) Groups() []dedup.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return dedup.GroupDuplicates(m.records)
}

// checkpoint persists the full record map. Snapshot and write happen under
// saveMu so concurrent savers cannot reorder an older map after a newer one.
func (m *Manager) checkpoint() {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	m.mu.Lock()
	snap := maps.Clone(m.records)
	m.mu.Unlock()
	m.store.Save(snap)
	metrics.Checkpoints.Inc()
	publishIndexGauges(snap)
}
