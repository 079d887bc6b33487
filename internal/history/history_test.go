package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/eargollo/assetindex/internal/db"
	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/scan"
)

func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := internaldb.Open(filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

func TestBeginFinishList(t *testing.T) {
	l := New(mustOpenDB(t))
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	id, err := l.Begin(ctx, start, "manual")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	err = l.Finish(ctx, scan.RunSummary{
		ID:         id,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Outcome:    scan.OutcomeCompleted,
		Progress: scan.Snapshot{
			Metadata: 120, Remote: 7, Candidates: 40, Fingerprinted: 38, AlreadyKnown: 1, Errors: 1,
		},
		Totals: dedup.Totals{Groups: 3, Records: 8, ReclaimableBytes: 4096},
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	items, total, err := l.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("list: got total %d, %d items", total, len(items))
	}
	e := items[0]
	if e.Status != "completed" || e.TriggeredBy != "manual" {
		t.Errorf("entry: got status %q trigger %q", e.Status, e.TriggeredBy)
	}
	if e.MetadataCount != 120 || e.CandidateCount != 40 || e.FingerprintedCount != 38 || e.ErrorCount != 1 {
		t.Errorf("counters: got %+v", e)
	}
	if e.DuplicateGroups != 3 || e.DuplicateRecords != 8 || e.ReclaimableBytes != 4096 {
		t.Errorf("totals: got %+v", e)
	}
	if e.DurationSeconds == nil || *e.DurationSeconds != 90 {
		t.Errorf("duration: got %v, want 90", e.DurationSeconds)
	}
}

func TestListNewestFirst(t *testing.T) {
	l := New(mustOpenDB(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := l.Begin(ctx, time.Unix(int64(1000+i), 0), "schedule"); err != nil {
			t.Fatal(err)
		}
	}
	items, total, err := l.List(ctx, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("page: got total %d, %d items", total, len(items))
	}
	if !items[0].StartedAt.After(items[1].StartedAt) {
		t.Errorf("order: %v then %v", items[0].StartedAt, items[1].StartedAt)
	}
	if items[0].FinishedAt != nil {
		t.Error("running scan has a finish time")
	}
}

func TestMarkStale(t *testing.T) {
	db := mustOpenDB(t)
	l := New(db)
	ctx := context.Background()
	if _, err := l.Begin(ctx, time.Now(), "manual"); err != nil {
		t.Fatal(err)
	}

	if err := MarkStale(db); err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	items, _, err := l.List(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Status != "failed" || items[0].FinishedAt == nil {
		t.Errorf("entry: got %+v", items[0])
	}
}

func TestFinishWithoutBegin(t *testing.T) {
	l := New(mustOpenDB(t))
	if err := l.Finish(context.Background(), scan.RunSummary{Outcome: scan.OutcomeFailed}); err != nil {
		t.Errorf("finish with zero id: %v", err)
	}
}
