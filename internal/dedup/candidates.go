// Package dedup selects fingerprinting candidates and groups fingerprinted
// records into duplicate clusters. Everything here is a pure read over
// index records.
package dedup

import (
	"sort"

	"github.com/eargollo/assetindex/internal/index"
)

// SizeBucketBytes is the width of one file-size bucket in a Signature.
const SizeBucketBytes = 64 * 1024

// Signature is the coarse key two byte-identical assets always share.
type Signature struct {
	Width      int
	Height     int
	SizeBucket int64
}

// SignatureOf returns the bucket signature of r.
func SignatureOf(r index.Record) Signature {
	return Signature{
		Width:      r.Width,
		Height:     r.Height,
		SizeBucket: r.FileSize / SizeBucketBytes,
	}
}

// Buckets partitions the local records by signature. Remote records are
// never bucketed. Identifiers inside each bucket are sorted.
func Buckets(records map[string]index.Record) map[Signature][]string {
	buckets := make(map[Signature][]string)
	for id, r := range records {
		if !r.IsLocal {
			continue
		}
		sig := SignatureOf(r)
		buckets[sig] = append(buckets[sig], id)
	}
	for _, ids := range buckets {
		sort.Strings(ids)
	}
	return buckets
}

// SelectCandidates returns, sorted, the identifiers of every local record
// that shares its signature with at least one other local record.
func SelectCandidates(records map[string]index.Record) []string {
	var out []string
	for _, ids := range Buckets(records) {
		if len(ids) > 1 {
			out = append(out, ids...)
		}
	}
	sort.Strings(out)
	return out
}
