package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eargollo/assetindex/internal/asset"
	"github.com/eargollo/assetindex/internal/index"
)

// blockFirstOpen makes the first Open signal started and wait for release.
func blockFirstOpen(p *fakeProvider) (started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	p.mu.Lock()
	p.openHook = func(string) {
		once.Do(func() {
			close(started)
			<-release
		})
	}
	p.mu.Unlock()
	return started, release
}

func countFingerprints(records map[string]index.Record) int {
	n := 0
	for _, r := range records {
		if r.HasFingerprint() {
			n++
		}
	}
	return n
}

func TestScanFindsDuplicates(t *testing.T) {
	p := newFakeProvider()
	p.add("a", 100, 100, 1, "dup", true)
	p.add("b", 100, 100, 2, "dup", true)
	p.add("c", 100, 100, 3, "other", true)
	p.add("r", 100, 100, 4, "dup", false) // remote, never a candidate
	p.add("s", 50, 50, 5, "dup", true)    // alone in its bucket

	store := &memStore{}
	m := NewManager(p, store, testConfig())
	mustStartAndWait(t, m)

	groups := m.Groups()
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	var ids []string
	for _, r := range groups[0].Members {
		ids = append(ids, r.ID)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("members: got %v, want [a b]", ids)
	}

	records := m.Records()
	if len(records) != 5 {
		t.Errorf("records: got %d, want 5", len(records))
	}
	if !records["c"].HasFingerprint() {
		t.Error("c should be fingerprinted")
	}
	if records["r"].HasFingerprint() || records["r"].IsLocal {
		t.Errorf("remote record: got %+v", records["r"])
	}
	if records["s"].HasFingerprint() {
		t.Error("s has no bucket peer and must not be fingerprinted")
	}

	last := m.LastRun()
	if last == nil || last.Outcome != OutcomeCompleted {
		t.Fatalf("last run: got %+v, want completed", last)
	}
	if last.Progress.Candidates != 3 || last.Progress.Fingerprinted != 3 {
		t.Errorf("progress: got %d candidates, %d fingerprinted, want 3/3",
			last.Progress.Candidates, last.Progress.Fingerprinted)
	}
	if last.Totals.Groups != 1 || last.Totals.ReclaimableBytes != 3 {
		t.Errorf("totals: got %+v", last.Totals)
	}
	if m.State() != StateIdle {
		t.Errorf("state: got %s, want idle", m.State())
	}

	_, saved := store.snapshot()
	if len(saved) != 5 {
		t.Errorf("saved records: got %d, want 5", len(saved))
	}
}

func TestScanKeepsKnownFingerprints(t *testing.T) {
	p := newFakeProvider()
	p.add("a", 64, 64, 1, "same", true)
	p.add("b", 64, 64, 2, "same", true)

	created := time.Unix(1, 0)
	store := &memStore{initial: map[string]index.Record{
		"a": {ID: "a", Width: 64, Height: 64, CreatedAt: &created, FileSize: 4,
			IsLocal: true, CacheStatus: index.CacheStatusLocal, Fingerprint: "deadbeef"},
	}}
	m := NewManager(p, store, testConfig())
	mustStartAndWait(t, m)

	if got := p.opens.Load(); got != 1 {
		t.Errorf("opens: got %d, want 1", got)
	}
	records := m.Records()
	if records["a"].Fingerprint != "deadbeef" {
		t.Errorf("a fingerprint: got %q, want deadbeef", records["a"].Fingerprint)
	}
	if !records["b"].HasFingerprint() {
		t.Error("b should be fingerprinted")
	}
	if got := m.LastRun().Progress.AlreadyKnown; got != 1 {
		t.Errorf("already known: got %d, want 1", got)
	}
}

func TestScanRefreshesMetadata(t *testing.T) {
	p := newFakeProvider()
	p.add("a", 10, 10, 1, "fresh", false)

	store := &memStore{initial: map[string]index.Record{
		"a": {ID: "a", Width: 1, Height: 1, FileSize: 1, IsLocal: true,
			CacheStatus: index.CacheStatusLocal, Fingerprint: "keep"},
	}}
	m := NewManager(p, store, testConfig())
	mustStartAndWait(t, m)

	r := m.Records()["a"]
	if r.Width != 10 || r.FileSize != 5 || r.IsLocal || r.CacheStatus != index.CacheStatusRemote {
		t.Errorf("metadata not refreshed: %+v", r)
	}
	if r.Fingerprint != "keep" {
		t.Errorf("fingerprint: got %q, want keep", r.Fingerprint)
	}
}

func TestStartWhileRunning(t *testing.T) {
	p := newFakeProvider()
	addCandidates(p, 2)
	started, release := blockFirstOpen(p)

	m := NewManager(p, &memStore{}, testConfig())
	first, err := m.Start(context.Background(), "manual")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	if _, err := m.Start(context.Background(), "manual"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start: got %v, want ErrAlreadyRunning", err)
	}
	if a := m.ActiveScan(); a == nil || a.StartedAt != first.StartedAt {
		t.Errorf("active scan changed: got %+v", a)
	}

	close(release)
	waitDone(t, m, 5*time.Second)
}

func TestControlWhenIdle(t *testing.T) {
	m := NewManager(newFakeProvider(), &memStore{}, testConfig())
	if err := m.Pause(); !errors.Is(err, ErrNoActiveScan) {
		t.Errorf("pause: got %v, want ErrNoActiveScan", err)
	}
	if err := m.Resume(); !errors.Is(err, ErrNoActiveScan) {
		t.Errorf("resume: got %v, want ErrNoActiveScan", err)
	}
	if _, err := m.Cancel(); !errors.Is(err, ErrNoActiveScan) {
		t.Errorf("cancel: got %v, want ErrNoActiveScan", err)
	}
	if m.ActiveScan() != nil {
		t.Error("idle manager reported an active scan")
	}
}

func TestCheckpointCadence(t *testing.T) {
	p := newFakeProvider()
	for i := 0; i < 60; i++ {
		// Distinct widths put every asset in its own bucket.
		p.add(string(rune('A'+i)), i+1, 1, int64(i), "x", true)
	}
	store := &memStore{}
	m := NewManager(p, store, testConfig())
	mustStartAndWait(t, m)

	// Two cadence saves (25, 50), one per phase end, one final.
	saves, saved := store.snapshot()
	if saves != 5 {
		t.Errorf("saves: got %d, want 5", saves)
	}
	if len(saved) != 60 {
		t.Errorf("saved records: got %d, want 60", len(saved))
	}
	if got := m.LastRun().Progress.Checkpoints; got != 5 {
		t.Errorf("checkpoints: got %d, want 5", got)
	}
}

func TestPauseResumeDoesNotReprocess(t *testing.T) {
	p := newFakeProvider()
	addCandidates(p, 10)
	started, release := blockFirstOpen(p)

	m := NewManager(p, &memStore{}, testConfig())
	if _, err := m.Start(context.Background(), "manual"); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if m.State() != StatePaused {
		t.Errorf("state: got %s, want paused", m.State())
	}
	close(release)

	// The in-flight item completes; nothing else starts while paused.
	time.Sleep(50 * time.Millisecond)
	if got := p.opens.Load(); got != 1 {
		t.Fatalf("opens while paused: got %d, want 1", got)
	}
	if err := m.Pause(); err != nil {
		t.Errorf("second pause: %v", err)
	}

	if err := m.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitDone(t, m, 5*time.Second)

	if got := p.opens.Load(); got != 10 {
		t.Errorf("opens: got %d, want 10", got)
	}
	last := m.LastRun()
	if last.Outcome != OutcomeCompleted || last.Progress.Fingerprinted != 10 {
		t.Errorf("last run: outcome %s, fingerprinted %d", last.Outcome, last.Progress.Fingerprinted)
	}
}

func TestCancelWhilePausedThenRestart(t *testing.T) {
	p := newFakeProvider()
	addCandidates(p, 10)
	started, release := blockFirstOpen(p)

	store := &memStore{}
	m := NewManager(p, store, testConfig())
	if _, err := m.Start(context.Background(), "manual"); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	close(release)
	time.Sleep(20 * time.Millisecond)

	if _, err := m.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitDone(t, m, time.Second)

	if got := m.LastRun().Outcome; got != OutcomeCancelled {
		t.Errorf("outcome: got %s, want cancelled", got)
	}
	if m.State() != StateIdle {
		t.Errorf("state: got %s, want idle", m.State())
	}

	_, saved := store.snapshot()
	if len(saved) != 10 {
		t.Fatalf("saved records: got %d, want 10", len(saved))
	}
	if got := countFingerprints(saved); got != 1 {
		t.Errorf("saved fingerprints: got %d, want 1", got)
	}

	// A fresh manager over the saved index finishes the remaining work only.
	m2 := NewManager(p, &memStore{initial: saved}, testConfig())
	mustStartAndWait(t, m2)
	if got := p.opens.Load(); got != 10 {
		t.Errorf("total opens: got %d, want 10", got)
	}
	if got := countFingerprints(m2.Records()); got != 10 {
		t.Errorf("fingerprints after restart: got %d, want 10", got)
	}
	if got := m2.LastRun().Progress.AlreadyKnown; got != 1 {
		t.Errorf("already known: got %d, want 1", got)
	}
}

func TestParentContextCancels(t *testing.T) {
	p := newFakeProvider()
	addCandidates(p, 3)
	started, release := blockFirstOpen(p)

	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(p, &memStore{}, testConfig())
	if _, err := m.Start(ctx, "schedule"); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	cancel()
	close(release)
	waitDone(t, m, time.Second)

	if got := m.LastRun().Outcome; got != OutcomeCancelled {
		t.Errorf("outcome: got %s, want cancelled", got)
	}
	// The in-flight item was not abandoned.
	if got := countFingerprints(m.Records()); got != 1 {
		t.Errorf("fingerprints: got %d, want 1", got)
	}
}

func TestEnumerateFailure(t *testing.T) {
	p := newFakeProvider()
	p.add("a", 1, 1, 0, "x", true)
	m := NewManager(failingEnumerate{p}, &memStore{}, testConfig())
	if _, err := m.Start(context.Background(), "manual"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, m, time.Second)

	last := m.LastRun()
	if last.Outcome != OutcomeFailed || last.Error == "" {
		t.Errorf("last run: got outcome %s, error %q", last.Outcome, last.Error)
	}
}

type failingEnumerate struct{ *fakeProvider }

func (failingEnumerate) Enumerate(context.Context) ([]asset.Ref, error) {
	return nil, errors.New("library unavailable")
}

func TestUpdatesHoldLatestSnapshot(t *testing.T) {
	p := newFakeProvider()
	addCandidates(p, 30)
	m := NewManager(p, &memStore{}, testConfig())
	mustStartAndWait(t, m)

	select {
	case snap := <-m.Updates():
		if snap.State != StateIdle {
			t.Errorf("state: got %s, want idle", snap.State)
		}
		if snap.Scanned != 60 || snap.Fraction != 1 {
			t.Errorf("progress: got scanned %d fraction %v, want 60 and 1", snap.Scanned, snap.Fraction)
		}
	default:
		t.Fatal("no snapshot published")
	}

	select {
	case snap := <-m.Updates():
		t.Errorf("unexpected extra snapshot: %+v", snap)
	default:
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	begun    []string
	finished []RunSummary
}

func (r *fakeRecorder) Begin(_ context.Context, _ time.Time, triggeredBy string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, triggeredBy)
	return int64(len(r.begun)), nil
}

func (r *fakeRecorder) Finish(_ context.Context, s RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
	return nil
}

func TestRecorderSeesRun(t *testing.T) {
	p := newFakeProvider()
	p.add("a", 8, 8, 1, "dup", true)
	p.add("b", 8, 8, 2, "dup", true)
	rec := &fakeRecorder{}

	m := NewManager(p, &memStore{}, testConfig(), WithRecorder(rec))
	if _, err := m.Start(context.Background(), "schedule"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, m, 5*time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.begun) != 1 || rec.begun[0] != "schedule" {
		t.Fatalf("begin: got %v", rec.begun)
	}
	if len(rec.finished) != 1 {
		t.Fatalf("finish calls: got %d, want 1", len(rec.finished))
	}
	s := rec.finished[0]
	if s.ID != 1 || s.Outcome != OutcomeCompleted || s.Totals.Groups != 1 {
		t.Errorf("summary: got %+v", s)
	}
}
