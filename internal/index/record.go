// Package index holds the per-asset metadata records and their durable
// on-disk store.
package index

import "time"

// Cache status labels shown next to each record.
const (
	CacheStatusLocal  = "local"
	CacheStatusRemote = "icloud"
)

// Record is the indexed metadata snapshot of one asset. ID is the sole
// identity; everything else is overwritten by later scans.
type Record struct {
	ID          string     `json:"assetIdentifier"`
	Width       int        `json:"pixelWidth"`
	Height      int        `json:"pixelHeight"`
	CreatedAt   *time.Time `json:"creationDate,omitempty"`
	FileSize    int64      `json:"fileSize"`
	IsLocal     bool       `json:"isLocal"`
	CacheStatus string     `json:"cacheStatus"`
	// Fingerprint is the lowercase hex SHA-256 of the asset bytes, empty
	// until computed. It is never recomputed once set.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// HasFingerprint reports whether the content hash has been computed.
func (r Record) HasFingerprint() bool {
	return r.Fingerprint != ""
}

// CacheStatusFor returns the display label for a local-availability flag.
func CacheStatusFor(isLocal bool) string {
	if isLocal {
		return CacheStatusLocal
	}
	return CacheStatusRemote
}

// CreatedBefore orders records by creation date ascending, a missing date
// sorting before every present one, then by ID.
func CreatedBefore(a, b Record) bool {
	switch {
	case a.CreatedAt == nil && b.CreatedAt != nil:
		return true
	case a.CreatedAt != nil && b.CreatedAt == nil:
		return false
	case a.CreatedAt != nil && b.CreatedAt != nil && !a.CreatedAt.Equal(*b.CreatedAt):
		return a.CreatedAt.Before(*b.CreatedAt)
	}
	return a.ID < b.ID
}
