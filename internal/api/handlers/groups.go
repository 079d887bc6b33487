package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/scan"
)

// GroupsHandler handles duplicate-group API endpoints.
type GroupsHandler struct {
	Manager *scan.Manager
}

type groupItem struct {
	Fingerprint      string       `json:"fingerprint"`
	FileSize         int64        `json:"file_size"`
	Count            int          `json:"count"`
	ReclaimableBytes int64        `json:"reclaimable_bytes"`
	Reclaimable      string       `json:"reclaimable"`
	Members          []memberItem `json:"members"`
}

type memberItem struct {
	ID          string     `json:"id"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	CreatedAt   *time.Time `json:"created_at"`
	FileSize    int64      `json:"file_size"`
	IsLocal     bool       `json:"is_local"`
	CacheStatus string     `json:"cache_status"`
	Keep        bool       `json:"keep"`
}

type deleteResponse struct {
	Fingerprint string   `json:"fingerprint"`
	Kept        string   `json:"kept,omitempty"`
	Deleted     []string `json:"deleted"`
	Failed      []string `json:"failed"`
	Error       string   `json:"error,omitempty"`
}

func toGroupItem(g dedup.Group) groupItem {
	it := groupItem{
		Fingerprint:      g.Fingerprint,
		Count:            len(g.Members),
		ReclaimableBytes: g.ReclaimableBytes(),
		Members:          make([]memberItem, 0, len(g.Members)),
	}
	it.Reclaimable = humanize.IBytes(uint64(it.ReclaimableBytes))
	if len(g.Members) > 0 {
		it.FileSize = g.Members[0].FileSize
	}
	for i, r := range g.Members {
		it.Members = append(it.Members, memberItem{
			ID:          r.ID,
			Width:       r.Width,
			Height:      r.Height,
			CreatedAt:   r.CreatedAt,
			FileSize:    r.FileSize,
			IsLocal:     r.IsLocal,
			CacheStatus: r.CacheStatus,
			Keep:        i == 0,
		})
	}
	return it
}

func toDeleteResponse(res scan.DeleteResult, err error) deleteResponse {
	out := deleteResponse{
		Fingerprint: res.Fingerprint,
		Kept:        res.Kept,
		Deleted:     res.Deleted,
		Failed:      res.Failed,
	}
	if out.Deleted == nil {
		out.Deleted = []string{}
	}
	if out.Failed == nil {
		out.Failed = []string{}
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// List handles GET /api/groups. Groups are ordered largest first.
func (h *GroupsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	groups := h.Manager.Groups()

	items := make([]groupItem, 0, len(groups))
	for _, g := range page(groups, limit, offset) {
		items = append(items, toGroupItem(g))
	}
	writeJSON(w, http.StatusOK, ListResponse[groupItem]{
		Items:  items,
		Total:  len(groups),
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/groups/{fingerprint}.
func (h *GroupsHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, ok := dedup.Find(h.Manager.Groups(), chi.URLParam(r, "fingerprint"))
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
		return
	}
	writeJSON(w, http.StatusOK, toGroupItem(g))
}

// Delete handles POST /api/groups/{fingerprint}/delete. Every member but
// the first is removed.
func (h *GroupsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	res, err := h.Manager.DeleteGroup(r.Context(), fp)

	var partial *scan.PartialDeleteError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toDeleteResponse(res, nil))
	case errors.Is(err, scan.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Group not found")
	case errors.Is(err, scan.ErrNoAssetsFound):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorBody{Error: APIError{
			Code:     "NO_ASSETS_FOUND",
			Message:  "None of the duplicates exist in the library any more",
			Failures: res.Failed,
		}})
	case errors.As(err, &partial):
		writeJSON(w, http.StatusMultiStatus, toDeleteResponse(res, err))
	default:
		slog.Error("groups: delete", "fingerprint", fp, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// DeleteAll handles POST /api/groups/delete-all.
func (h *GroupsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.Manager.DeleteAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	type allResponse struct {
		Groups  []deleteResponse `json:"groups"`
		Deleted int              `json:"deleted"`
		Failed  int              `json:"failed"`
	}
	resp := allResponse{Groups: make([]deleteResponse, 0, len(results))}
	status := http.StatusOK
	for _, res := range results {
		item := toDeleteResponse(res, nil)
		if len(res.Failed) > 0 {
			status = http.StatusMultiStatus
		}
		resp.Deleted += len(res.Deleted)
		resp.Failed += len(res.Failed)
		resp.Groups = append(resp.Groups, item)
	}
	writeJSON(w, status, resp)
}
