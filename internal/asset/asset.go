// Package asset defines the contract between the indexing engine and the
// media library that owns the assets.
package asset

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when none of the requested assets exist in the
// library.
var ErrNotFound = errors.New("asset not found in library")

// ErrRemoteNotAllowed is returned by Provider.Open when the asset bytes are
// only available remotely and the caller disallowed network access.
var ErrRemoteNotAllowed = errors.New("asset is remote and network access is not allowed")

// Ref is a lightweight handle to one asset as reported by the provider.
type Ref struct {
	ID        string
	Width     int
	Height    int
	CreatedAt *time.Time
	// Size is the byte size of the primary resource; 0 when the provider
	// cannot report it.
	Size int64
}

// Provider enumerates, reads and deletes assets. Implementations must be
// safe for concurrent use: the scan and deletion calls may overlap.
//
// There is no timeout on provider calls; callers that need bounded latency
// must enforce it inside the implementation.
type Provider interface {
	// Enumerate lists every asset currently in the library.
	Enumerate(ctx context.Context) ([]Ref, error)

	// ProbeLocal reports whether the asset bytes can be read without a
	// network round-trip. It must never touch the network itself.
	ProbeLocal(ctx context.Context, ref Ref) bool

	// Open streams the asset bytes. wasRemote reports whether reading them
	// required (or will require) a network fetch. When allowNetwork is false
	// and the bytes are remote, Open returns ErrRemoteNotAllowed.
	Open(ctx context.Context, ref Ref, allowNetwork bool) (rc io.ReadCloser, wasRemote bool, err error)

	// Delete removes the given assets and returns the identifiers that were
	// actually removed. Partial success is not an error. Delete returns
	// ErrNotFound when none of ids resolve to a live asset.
	Delete(ctx context.Context, ids []string) ([]string, error)
}
