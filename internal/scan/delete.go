package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eargollo/assetindex/internal/asset"
	"github.com/eargollo/assetindex/internal/dedup"
	"github.com/eargollo/assetindex/internal/metrics"
)

// ErrNoAssetsFound is returned when a deletion request resolves to zero live
// assets in the library. It is distinct from a real attempt in which every
// deletion failed.
var ErrNoAssetsFound = errors.New("no assets found to delete")

// ErrGroupNotFound is returned when no current duplicate group has the
// requested fingerprint.
var ErrGroupNotFound = errors.New("duplicate group not found")

// PartialDeleteError reports the identifiers the provider did not remove.
type PartialDeleteError struct {
	Deleted []string
	Failed  []string
	Err     error // provider error, if any
}

func (e *PartialDeleteError) Error() string {
	msg := fmt.Sprintf("deleted %d of %d assets; not removed: %s",
		len(e.Deleted), len(e.Deleted)+len(e.Failed), strings.Join(e.Failed, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }

// DeleteResult is the outcome of deduplicating one group.
type DeleteResult struct {
	Fingerprint string
	Kept        string
	Requested   []string
	Deleted     []string
	Failed      []string
	// Groups is the duplicate view recomputed after the store was updated.
	Groups []dedup.Group
}

// DeleteDuplicates deletes every member of group except the first through
// the provider, then drops the confirmed identifiers from the record map and
// persists it. Members no longer in the index are ignored; a group left with
// one member or fewer is a no-op.
//
// When the provider removes only some members, the result lists both sets
// and the error is a *PartialDeleteError.
func (m *Manager) DeleteDuplicates(ctx context.Context, group dedup.Group) (DeleteResult, error) {
	res := DeleteResult{Fingerprint: group.Fingerprint}

	live := m.liveMembers(group)
	if len(live) <= 1 {
		res.Groups = m.Groups()
		return res, nil
	}
	res.Kept = live[0]
	res.Requested = live[1:]

	deleted, err := m.provider.Delete(ctx, res.Requested)
	if errors.Is(err, asset.ErrNotFound) {
		res.Failed = res.Requested
		res.Groups = m.Groups()
		return res, ErrNoAssetsFound
	}

	requested := make(map[string]struct{}, len(res.Requested))
	for _, id := range res.Requested {
		requested[id] = struct{}{}
	}
	confirmed := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		if _, ok := requested[id]; ok {
			confirmed[id] = struct{}{}
		}
	}
	for _, id := range res.Requested {
		if _, ok := confirmed[id]; ok {
			res.Deleted = append(res.Deleted, id)
		} else {
			res.Failed = append(res.Failed, id)
		}
	}

	if len(res.Deleted) > 0 {
		m.forget(res.Deleted)
		m.checkpoint()
	}
	res.Groups = m.Groups()

	metrics.Deletions.WithLabelValues("deleted").Add(float64(len(res.Deleted)))
	metrics.Deletions.WithLabelValues("failed").Add(float64(len(res.Failed)))
	slog.Info("duplicates deleted", "fingerprint", group.Fingerprint,
		"kept", res.Kept, "deleted", len(res.Deleted), "failed", len(res.Failed))

	if len(res.Failed) > 0 || err != nil {
		return res, &PartialDeleteError{Deleted: res.Deleted, Failed: res.Failed, Err: err}
	}
	return res, nil
}

// DeleteGroup resolves fingerprint against the current duplicate view and
// deduplicates that group.
func (m *Manager) DeleteGroup(ctx context.Context, fingerprint string) (DeleteResult, error) {
	g, ok := dedup.Find(m.Groups(), fingerprint)
	if !ok {
		return DeleteResult{Fingerprint: fingerprint}, ErrGroupNotFound
	}
	return m.DeleteDuplicates(ctx, g)
}

// DeleteAll deduplicates every current group. It stops early only when ctx
// is cancelled; per-group failures are reported in the results.
func (m *Manager) DeleteAll(ctx context.Context) ([]DeleteResult, error) {
	var results []DeleteResult
	for _, g := range m.Groups() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := m.DeleteDuplicates(ctx, g)
		if err != nil {
			slog.Warn("delete group", "fingerprint", g.Fingerprint, "error", err)
		}
		results = append(results, res)
	}
	return results, nil
}

// liveMembers returns, in group order, the identifiers still in the index.
func (m *Manager) liveMembers(group dedup.Group) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, r := range group.Members {
		if _, ok := m.records[r.ID]; ok {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// forget removes ids from the record map. While a scan is active they are
// also tombstoned so the scan cannot re-insert them.
func (m *Manager) forget(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
		if m.active != nil {
			m.tombstones[id] = struct{}{}
		}
	}
}
