package dedup

import (
	"sort"

	"github.com/eargollo/assetindex/internal/index"
)

// Group is a set of at least two records sharing a fingerprint. Members are
// ordered oldest first; the first member is the one to keep.
type Group struct {
	Fingerprint string
	Members     []index.Record
}

// Keep returns the member that deduplication retains.
func (g Group) Keep() index.Record {
	return g.Members[0]
}

// Redundant returns every member except the retained one.
func (g Group) Redundant() []index.Record {
	if len(g.Members) < 2 {
		return nil
	}
	return g.Members[1:]
}

// ReclaimableBytes is the space freed by deleting the redundant members.
func (g Group) ReclaimableBytes() int64 {
	var n int64
	for _, r := range g.Redundant() {
		n += r.FileSize
	}
	return n
}

// Totals aggregates a grouping result.
type Totals struct {
	Groups           int64 `json:"groups"`
	Records          int64 `json:"records"`
	ReclaimableBytes int64 `json:"reclaimable_bytes"`
}

// GroupDuplicates partitions fingerprinted records by fingerprint and keeps
// only clusters with more than one member. Members are ordered by creation
// date (missing first, then identifier); groups by size descending, ties by
// fingerprint.
func GroupDuplicates(records map[string]index.Record) []Group {
	byHash := make(map[string][]index.Record)
	for _, r := range records {
		if !r.HasFingerprint() {
			continue
		}
		byHash[r.Fingerprint] = append(byHash[r.Fingerprint], r)
	}

	groups := make([]Group, 0, len(byHash))
	for hash, members := range byHash {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return index.CreatedBefore(members[i], members[j])
		})
		groups = append(groups, Group{Fingerprint: hash, Members: members})
	}

	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Members) != len(groups[j].Members) {
			return len(groups[i].Members) > len(groups[j].Members)
		}
		return groups[i].Fingerprint < groups[j].Fingerprint
	})
	return groups
}

// Summarize returns the aggregate counts for groups.
func Summarize(groups []Group) Totals {
	var t Totals
	for _, g := range groups {
		t.Groups++
		t.Records += int64(len(g.Members))
		t.ReclaimableBytes += g.ReclaimableBytes()
	}
	return t
}

// Find returns the group with the given fingerprint.
func Find(groups []Group, fingerprint string) (Group, bool) {
	for _, g := range groups {
		if g.Fingerprint == fingerprint {
			return g, true
		}
	}
	return Group{}, false
}
