// Package library is a filesystem-backed asset.Provider. Assets are the
// image and video files below a set of root directories and are identified
// by their absolute path.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/eargollo/assetindex/internal/asset"
)

// Trasher moves a file somewhere recoverable instead of deleting it.
type Trasher interface {
	MoveToTrash(ctx context.Context, assetID, path string) (int64, error)
}

// Options configures a Library.
type Options struct {
	// LocalPaths hold files that are always on local storage.
	LocalPaths []string
	// CloudPaths are mounted cloud drives whose files may be placeholders
	// that download on first read.
	CloudPaths []string
	// ExcludePaths are skipped together with everything below them.
	ExcludePaths []string
	// Walkers is the number of concurrent directory readers.
	Walkers int
	// Trash receives deleted assets. When nil, deletion is permanent.
	Trash Trasher
}

// Library implements asset.Provider over local and cloud-synced folders.
type Library struct {
	localRoots []string
	cloudRoots []string
	excludes   map[string]struct{}
	walkers    int
	trash      Trasher
}

// New creates a Library. Root and exclude paths are made absolute.
func New(opts Options) (*Library, error) {
	l := &Library{
		excludes: make(map[string]struct{}, len(opts.ExcludePaths)),
		walkers:  opts.Walkers,
		trash:    opts.Trash,
	}
	if l.walkers < 1 {
		l.walkers = 4
	}
	var err error
	if l.localRoots, err = absAll(opts.LocalPaths); err != nil {
		return nil, err
	}
	if l.cloudRoots, err = absAll(opts.CloudPaths); err != nil {
		return nil, err
	}
	excludes, err := absAll(opts.ExcludePaths)
	if err != nil {
		return nil, err
	}
	for _, p := range excludes {
		l.excludes[p] = struct{}{}
	}
	return l, nil
}

func absAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", p, err)
		}
		out = append(out, filepath.Clean(abs))
	}
	return out, nil
}

// Enumerate walks every root and returns the image and video files found,
// sorted by identifier. A root that cannot be read fails the enumeration;
// errors below a root are logged and skipped.
func (l *Library) Enumerate(ctx context.Context) ([]asset.Ref, error) {
	roots := l.roots()
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("library root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("library root %q is not a directory", root)
		}
	}

	files := make(chan fileEntry, 256)
	go walk(ctx, roots, l.excludes, l.walkers, files, func(path string, err error) {
		slog.Warn("library: walk error", "path", path, "error", err)
	})

	var (
		mu   sync.Mutex
		refs []asset.Ref
		wg   sync.WaitGroup
	)
	for i := 0; i < l.walkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fe := range files {
				ref, ok := l.describe(fe)
				if !ok {
					continue
				}
				mu.Lock()
				refs = append(refs, ref)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(refs, func(a, b asset.Ref) int { return strings.Compare(a.ID, b.ID) })
	return refs, nil
}

// describe builds the Ref for a walked file. Headers are only read for
// files whose bytes are already local so enumeration never triggers a
// download.
func (l *Library) describe(fe fileEntry) (asset.Ref, bool) {
	if fe.Kind == KindOther {
		return asset.Ref{}, false
	}
	mtime := fe.MTime
	ref := asset.Ref{ID: fe.Path, Size: fe.Size, CreatedAt: &mtime}

	if fe.Kind == KindImage && l.isLocal(fe.Path) {
		meta := probeImage(fe.Path)
		ref.Width, ref.Height = meta.Width, meta.Height
		if meta.TakenAt != nil {
			ref.CreatedAt = meta.TakenAt
		}
	}
	return ref, true
}

// ProbeLocal reports whether the asset bytes are on local storage. It only
// inspects file metadata.
func (l *Library) ProbeLocal(_ context.Context, ref asset.Ref) bool {
	if !l.owns(ref.ID) {
		return false
	}
	return l.isLocal(ref.ID)
}

func (l *Library) isLocal(path string) bool {
	if l.inCloud(path) {
		ok, err := hasLocalData(path)
		return err == nil && ok
	}
	_, err := os.Stat(path)
	return err == nil
}

// Open streams the asset file. Reading a cloud placeholder downloads it, so
// that case is refused with asset.ErrRemoteNotAllowed unless allowNetwork.
func (l *Library) Open(_ context.Context, ref asset.Ref, allowNetwork bool) (io.ReadCloser, bool, error) {
	if !l.owns(ref.ID) {
		return nil, false, fmt.Errorf("%w: %s is outside the library", asset.ErrNotFound, ref.ID)
	}
	remote := false
	if l.inCloud(ref.ID) {
		local, err := hasLocalData(ref.ID)
		if err != nil {
			return nil, false, notFound(ref.ID, err)
		}
		remote = !local
	}
	if remote && !allowNetwork {
		return nil, true, asset.ErrRemoteNotAllowed
	}
	f, err := os.Open(ref.ID)
	if err != nil {
		return nil, remote, notFound(ref.ID, err)
	}
	return f, remote, nil
}

// Delete moves the given assets to the trash and returns the identifiers
// removed. Identifiers with no file are skipped; if none exists the result
// is asset.ErrNotFound. Per-file failures are joined into the error.
func (l *Library) Delete(ctx context.Context, ids []string) ([]string, error) {
	var (
		deleted []string
		errs    []error
		found   int
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !l.owns(id) {
			continue
		}
		if _, err := os.Lstat(id); err != nil {
			continue
		}
		found++
		if err := l.remove(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		deleted = append(deleted, id)
	}
	if found == 0 && len(errs) == 0 {
		return nil, asset.ErrNotFound
	}
	return deleted, errors.Join(errs...)
}

func (l *Library) remove(ctx context.Context, path string) error {
	if l.trash == nil {
		return os.Remove(path)
	}
	_, err := l.trash.MoveToTrash(ctx, path, path)
	return err
}

func (l *Library) roots() []string {
	return append(slices.Clone(l.localRoots), l.cloudRoots...)
}

// owns reports whether path lies inside one of the roots.
func (l *Library) owns(path string) bool {
	return within(l.localRoots, path) || within(l.cloudRoots, path)
}

func (l *Library) inCloud(path string) bool {
	return within(l.cloudRoots, path)
}

func within(roots []string, path string) bool {
	path = filepath.Clean(path)
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".." {
			return true
		}
	}
	return false
}

func notFound(id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", asset.ErrNotFound, id)
	}
	return err
}
