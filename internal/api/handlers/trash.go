package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/assetindex/internal/trash"
)

// TrashHandler handles trash API endpoints.
type TrashHandler struct {
	Trash *trash.Manager
}

// List handles GET /api/trash.
func (h *TrashHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.Trash.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("trash list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[trash.Item]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Restore handles POST /api/trash/{id}/restore.
func (h *TrashHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid trash ID")
		return
	}

	err = h.Trash.Restore(r.Context(), id)
	var conflict *trash.ErrRestoreConflict
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "restored"})
	case errors.Is(err, trash.ErrNotTrashed):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "RESTORE_CONFLICT", err.Error())
	default:
		slog.Error("trash restore", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// PurgeAll handles DELETE /api/trash.
func (h *TrashHandler) PurgeAll(w http.ResponseWriter, r *http.Request) {
	count, freed, err := h.Trash.PurgeAll(r.Context())
	if err != nil {
		slog.Error("trash purge", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files_purged": count,
		"bytes_freed":  freed,
	})
}
