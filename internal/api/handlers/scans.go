package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/assetindex/internal/history"
	"github.com/eargollo/assetindex/internal/scan"
)

// ScansHandler handles scan-related API endpoints.
type ScansHandler struct {
	Manager *scan.Manager
	History *history.Ledger
}

// Create handles POST /api/scans and triggers a manual scan.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	// The scan outlives the request.
	active, err := h.Manager.Start(context.Background(), "manual")
	if err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "SCAN_ALREADY_RUNNING", "A scan is already in progress")
			return
		}
		slog.Error("scans: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start scan")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":           active.ID,
		"status":       scan.StateRunning,
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Pause handles POST /api/scans/current/pause.
func (h *ScansHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, h.Manager.Pause)
}

// Resume handles POST /api/scans/current/resume.
func (h *ScansHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, h.Manager.Resume)
}

func (h *ScansHandler) control(w http.ResponseWriter, fn func() error) {
	if err := fn(); err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.Manager.Progress())
}

// Cancel handles DELETE /api/scans/current.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":         snap.ID,
		"status":     "cancelling",
		"started_at": snap.StartedAt.UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/scans. History is returned newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	if h.History == nil {
		writeJSON(w, http.StatusOK, ListResponse[history.Entry]{Items: []history.Entry{}, Limit: limit, Offset: offset})
		return
	}

	items, total, err := h.History.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("scans list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[history.Entry]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
