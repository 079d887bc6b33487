package handlers

import (
	"net/http"
	"time"

	"github.com/eargollo/assetindex/internal/scan"
	"github.com/eargollo/assetindex/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version    string          `json:"version"`
	State      scan.State      `json:"state"`
	ActiveScan *activeScanInfo `json:"active_scan"`
	Progress   scan.Snapshot   `json:"progress"`
	Schedule   scheduleInfo    `json:"schedule"`
	LastRun    *lastRunInfo    `json:"last_run"`
}

type activeScanInfo struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	TriggeredBy string    `json:"triggered_by"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	Paused    bool       `json:"paused"`
	NextRunAt *time.Time `json:"next_run_at"`
}

type lastRunInfo struct {
	ID               int64        `json:"id"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
	TriggeredBy      string       `json:"triggered_by"`
	Outcome          scan.Outcome `json:"outcome"`
	Error            string       `json:"error,omitempty"`
	DuplicateGroups  int64        `json:"duplicate_groups"`
	DuplicateRecords int64        `json:"duplicate_records"`
	ReclaimableBytes int64        `json:"reclaimable_bytes"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:  h.Version,
		State:    h.Manager.State(),
		Progress: h.Manager.Progress(),
	}
	if a := h.Manager.ActiveScan(); a != nil {
		resp.ActiveScan = &activeScanInfo{
			ID:          a.ID,
			StartedAt:   a.StartedAt.UTC(),
			TriggeredBy: a.TriggeredBy,
		}
	}
	if h.Sched != nil {
		resp.Schedule = scheduleInfo{
			Cron:      h.Sched.CronExpr(),
			Paused:    h.Sched.Paused(),
			NextRunAt: h.Sched.NextRunAt(),
		}
	}
	if last := h.Manager.LastRun(); last != nil {
		resp.LastRun = &lastRunInfo{
			ID:               last.ID,
			StartedAt:        last.StartedAt.UTC(),
			FinishedAt:       last.FinishedAt.UTC(),
			TriggeredBy:      last.TriggeredBy,
			Outcome:          last.Outcome,
			Error:            last.Error,
			DuplicateGroups:  last.Totals.Groups,
			DuplicateRecords: last.Totals.Records,
			ReclaimableBytes: last.Totals.ReclaimableBytes,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
