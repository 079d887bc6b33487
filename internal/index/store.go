package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FileName is the name of the index file inside the store directory.
const FileName = "asset_index.json"

// Store persists the full identifier → Record mapping as a single JSON file.
// Saves replace the file atomically (temp file + rename) under an advisory
// file lock, so readers see either the previous or the new index, never a
// partial one. A Store is safe for concurrent use.
type Store struct {
	path string
	lock *flock.Flock

	// mu serializes saves within the process; the file lock is reentrant
	// for its holder and only excludes other processes.
	mu sync.Mutex
}

// NewStore returns a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	return &Store{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the location of the index file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted index. A missing or unparsable file yields an
// empty map; Load never fails.
func (s *Store) Load() map[string]Record {
	records := make(map[string]Record)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("index: read failed, starting empty", "path", s.path, "error", err)
		}
		return records
	}

	var decoded map[string]Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		slog.Warn("index: parse failed, starting empty", "path", s.path, "error", err)
		return records
	}
	for id, rec := range decoded {
		// The map key is authoritative.
		rec.ID = id
		records[id] = rec
	}
	slog.Debug("index: loaded", "path", s.path, "records", len(records))
	return records
}

// Save replaces the persisted index with records. Failures are logged and
// swallowed: the in-memory map stays authoritative until the next save.
func (s *Store) Save(records map[string]Record) {
	if err := s.write(records); err != nil {
		slog.Warn("index: save failed", "path", s.path, "records", len(records), "error", err)
	}
}

func (s *Store) write(records map[string]Record) error {
	out := make(map[string]Record, len(records))
	for id, rec := range records {
		if rec.CreatedAt != nil {
			t := rec.CreatedAt.UTC()
			rec.CreatedAt = &t
		}
		out[id] = rec
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("index: unlock failed", "path", s.path, "error", err)
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}
