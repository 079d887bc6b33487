package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/scan"
)

// StatsHandler handles GET /api/stats.
type StatsHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
}

type statsResponse struct {
	Index  indexStats  `json:"index"`
	Totals statsTotals `json:"totals"`
}

type indexStats struct {
	Records          int    `json:"records"`
	Local            int    `json:"local"`
	Remote           int    `json:"remote"`
	Fingerprinted    int    `json:"fingerprinted"`
	DuplicateGroups  int64  `json:"duplicate_groups"`
	DuplicateRecords int64  `json:"duplicate_records"`
	ReclaimableBytes int64  `json:"reclaimable_bytes"`
	Reclaimable      string `json:"reclaimable"`
}

type statsTotals struct {
	DeletedFiles      int64 `json:"deleted_files"`
	ReclaimedBytes    int64 `json:"reclaimed_bytes"`
	DeletedFiles30d   int64 `json:"deleted_files_30d"`
	ReclaimedBytes30d int64 `json:"reclaimed_bytes_30d"`
}

// ServeHTTP handles GET /api/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var idx indexStats
	records := h.Manager.Records()
	idx.Records = len(records)
	for _, rec := range records {
		if rec.IsLocal {
			idx.Local++
		} else {
			idx.Remote++
		}
		if rec.HasFingerprint() {
			idx.Fingerprinted++
		}
	}
	t := dedup.Summarize(dedup.GroupDuplicates(records))
	idx.DuplicateGroups = t.Groups
	idx.DuplicateRecords = t.Records
	idx.ReclaimableBytes = t.ReclaimableBytes
	idx.Reclaimable = humanize.IBytes(uint64(t.ReclaimableBytes))

	resp := statsResponse{Index: idx}
	if h.DB != nil {
		since := time.Now().Add(-30 * 24 * time.Hour).Unix()
		err := h.DB.QueryRowContext(r.Context(), `
			SELECT COUNT(*), COALESCE(SUM(file_size), 0),
			       COUNT(CASE WHEN deleted_at >= ? THEN 1 END),
			       COALESCE(SUM(CASE WHEN deleted_at >= ? THEN file_size END), 0)
			FROM deletion_log`, since, since,
		).Scan(&resp.Totals.DeletedFiles, &resp.Totals.ReclaimedBytes,
			&resp.Totals.DeletedFiles30d, &resp.Totals.ReclaimedBytes30d)
		if err != nil {
			slog.Error("stats: query deletion log", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
