package scan

import (
	"context"

	"github.com/eargollo/assetindex/internal/asset"
	"github.com/eargollo/assetindex/internal/index"
)

// EstimatedSize is the fallback byte size for an asset whose provider cannot
// report one: four bytes per pixel. It is a coarse heuristic, not an
// accurate size.
func EstimatedSize(width, height int) int64 {
	return int64(width) * int64(height) * 4
}

// BuildRecord produces the phase-1 record for ref. It never fingerprints;
// the returned record always has an empty Fingerprint.
func BuildRecord(ctx context.Context, p asset.Provider, ref asset.Ref) index.Record {
	size := ref.Size
	if size <= 0 {
		size = EstimatedSize(ref.Width, ref.Height)
	}
	isLocal := p.ProbeLocal(ctx, ref)
	return index.Record{
		ID:          ref.ID,
		Width:       ref.Width,
		Height:      ref.Height,
		CreatedAt:   ref.CreatedAt,
		FileSize:    size,
		IsLocal:     isLocal,
		CacheStatus: index.CacheStatusFor(isLocal),
	}
}

// mergeMetadata folds a phase-1 record into existing, replacing every field
// phase 1 produces and carrying the fingerprint forward.
func mergeMetadata(existing index.Record, found bool, fresh index.Record) index.Record {
	if found {
		fresh.Fingerprint = existing.Fingerprint
	}
	return fresh
}

// refFromRecord rebuilds a provider handle for a record that the current
// enumeration did not report.
func refFromRecord(r index.Record) asset.Ref {
	return asset.Ref{
		ID:        r.ID,
		Width:     r.Width,
		Height:    r.Height,
		CreatedAt: r.CreatedAt,
		Size:      r.FileSize,
	}
}
