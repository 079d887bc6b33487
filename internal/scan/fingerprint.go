package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/eargollo/assetindex/internal/asset"
)

// ErrRemoteBytes is returned by Fingerprint in local-only mode when the
// provider had to go to the network for the bytes. The bytes are discarded.
var ErrRemoteBytes = errors.New("asset bytes required a remote fetch")

// Fingerprinter computes content hashes of asset bytes.
type Fingerprinter struct {
	provider asset.Provider
}

// NewFingerprinter creates a Fingerprinter reading through p.
func NewFingerprinter(p asset.Provider) *Fingerprinter {
	return &Fingerprinter{provider: p}
}

// Fingerprint returns the lowercase hex SHA-256 of the exact bytes of ref.
// With localOnly set, network access is disallowed and a result that still
// reports a remote fetch is rejected with ErrRemoteBytes.
func (f *Fingerprinter) Fingerprint(ctx context.Context, ref asset.Ref, localOnly bool) (string, error) {
	rc, wasRemote, err := f.provider.Open(ctx, ref, !localOnly)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", ref.ID, err)
	}
	defer rc.Close()

	if localOnly && wasRemote {
		return "", ErrRemoteBytes
	}

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("read %s: %w", ref.ID, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
