// Package history keeps the scan_history ledger: one row per scan run with
// its outcome and counters.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/eargollo/assetindex/internal/scan"
)

// Entry is one scan_history row.
type Entry struct {
	ID                 int64      `json:"id"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at"`
	Status             string     `json:"status"`
	TriggeredBy        string     `json:"triggered_by"`
	Error              string     `json:"error,omitempty"`
	MetadataCount      int64      `json:"metadata_count"`
	RemoteCount        int64      `json:"remote_count"`
	CandidateCount     int64      `json:"candidate_count"`
	FingerprintedCount int64      `json:"fingerprinted_count"`
	AlreadyKnownCount  int64      `json:"already_known_count"`
	ErrorCount         int64      `json:"error_count"`
	DuplicateGroups    int64      `json:"duplicate_groups"`
	DuplicateRecords   int64      `json:"duplicate_records"`
	ReclaimableBytes   int64      `json:"reclaimable_bytes"`
	DurationSeconds    *int64     `json:"duration_seconds"`
}

// Ledger records scan runs in SQLite. It implements scan.RunRecorder.
type Ledger struct {
	db *sql.DB
}

// New creates a Ledger over db. Migrations must already be applied.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

var _ scan.RunRecorder = (*Ledger)(nil)

// Begin inserts a 'running' row and returns its ID.
func (l *Ledger) Begin(ctx context.Context, startedAt time.Time, triggeredBy string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO scan_history (started_at, triggered_by, status) VALUES (?, ?, 'running')`,
		startedAt.Unix(), triggeredBy)
	if err != nil {
		return 0, fmt.Errorf("insert scan_history: %w", err)
	}
	return res.LastInsertId()
}

// Finish writes the outcome and counters of a finished run.
func (l *Ledger) Finish(ctx context.Context, s scan.RunSummary) error {
	if s.ID == 0 {
		return nil // Begin failed; nothing to finalise
	}
	var errText sql.NullString
	if s.Error != "" {
		errText = sql.NullString{String: s.Error, Valid: true}
	}
	p := s.Progress
	_, err := l.db.ExecContext(ctx, `
		UPDATE scan_history SET
			finished_at         = ?,
			status              = ?,
			error               = ?,
			metadata_count      = ?,
			remote_count        = ?,
			candidate_count     = ?,
			fingerprinted_count = ?,
			already_known_count = ?,
			error_count         = ?,
			duplicate_groups    = ?,
			duplicate_records   = ?,
			reclaimable_bytes   = ?
		WHERE id = ?`,
		s.FinishedAt.Unix(), string(s.Outcome), errText,
		p.Metadata, p.Remote, p.Candidates, p.Fingerprinted, p.AlreadyKnown, p.Errors,
		s.Totals.Groups, s.Totals.Records, s.Totals.ReclaimableBytes,
		s.ID)
	if err != nil {
		return fmt.Errorf("finalise scan_history %d: %w", s.ID, err)
	}
	return nil
}

// List returns scan history newest first and the total number of rows.
func (l *Ledger) List(ctx context.Context, limit, offset int) ([]Entry, int, error) {
	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_history`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scan_history: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, triggered_by, error,
		       metadata_count, remote_count, candidate_count, fingerprinted_count,
		       already_known_count, error_count,
		       duplicate_groups, duplicate_records, reclaimable_bytes
		FROM scan_history
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query scan_history: %w", err)
	}
	defer rows.Close()

	items := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			startedAt  int64
			finishedAt sql.NullInt64
			errText    sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &startedAt, &finishedAt, &e.Status, &e.TriggeredBy, &errText,
			&e.MetadataCount, &e.RemoteCount, &e.CandidateCount, &e.FingerprintedCount,
			&e.AlreadyKnownCount, &e.ErrorCount,
			&e.DuplicateGroups, &e.DuplicateRecords, &e.ReclaimableBytes,
		); err != nil {
			return nil, 0, fmt.Errorf("scan scan_history row: %w", err)
		}
		e.StartedAt = time.Unix(startedAt, 0).UTC()
		e.Error = errText.String
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0).UTC()
			e.FinishedAt = &t
			d := finishedAt.Int64 - startedAt
			e.DurationSeconds = &d
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// MarkStale marks any rows still in 'running' state as failed. Called once
// at startup: such rows belong to a process that died mid-scan.
func MarkStale(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE scan_history
		SET status = 'failed', finished_at = ?, error = 'interrupted'
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale scans failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale scans as failed", "count", n)
	}
	return nil
}
