package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func mustNewStore(tb testing.TB) *Store {
	tb.Helper()
	s, err := NewStore(filepath.Join(tb.TempDir(), "assetindex"))
	if err != nil {
		tb.Fatalf("new store: %v", err)
	}
	return s
}

func ptrTime(t time.Time) *time.Time { return &t }

func assertRecordsEqual(t *testing.T, got, want map[string]Record) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("records: got %d, want %d", len(got), len(want))
	}
	for id, w := range want {
		g, ok := got[id]
		if !ok {
			t.Errorf("record %q missing after load", id)
			continue
		}
		if (g.CreatedAt == nil) != (w.CreatedAt == nil) {
			t.Errorf("%s: creation date presence: got %v, want %v", id, g.CreatedAt, w.CreatedAt)
		} else if g.CreatedAt != nil && !g.CreatedAt.Equal(*w.CreatedAt) {
			t.Errorf("%s: creation date: got %v, want %v", id, *g.CreatedAt, *w.CreatedAt)
		}
		g.CreatedAt, w.CreatedAt = nil, nil
		if g != w {
			t.Errorf("%s: got %+v, want %+v", id, g, w)
		}
	}
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	s := mustNewStore(t)
	if got := s.Load(); len(got) != 0 {
		t.Errorf("expected empty map, got %d records", len(got))
	}
}

func TestLoadCorruptFileReturnsEmpty(t *testing.T) {
	s := mustNewStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := s.Load()
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil map, got %v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := mustNewStore(t)
	records := map[string]Record{
		"one": {
			ID: "one", Width: 1200, Height: 800,
			CreatedAt: ptrTime(time.Unix(1_700_000_000, 0)),
			FileSize:  1024, IsLocal: true, CacheStatus: CacheStatusLocal,
			Fingerprint: "abc",
		},
		"two": {
			ID: "two", Width: 10, Height: 20,
			FileSize: 800, IsLocal: false, CacheStatus: CacheStatusRemote,
		},
		"three": {
			ID: "three", Width: 1, Height: 1,
			// Non-UTC zone and sub-second precision must survive.
			CreatedAt: ptrTime(time.Date(2021, 3, 4, 5, 6, 7, 123456789, time.FixedZone("X", 3*3600))),
			FileSize:  4, IsLocal: true, CacheStatus: CacheStatusLocal,
		},
	}

	s.Save(records)
	assertRecordsEqual(t, s.Load(), records)
}

func TestSaveReplacesPreviousIndex(t *testing.T) {
	s := mustNewStore(t)
	s.Save(map[string]Record{"a": {ID: "a"}, "b": {ID: "b"}})
	s.Save(map[string]Record{"b": {ID: "b", Fingerprint: "h"}})

	got := s.Load()
	if _, ok := got["a"]; ok {
		t.Error("record a survived a save that dropped it")
	}
	if got["b"].Fingerprint != "h" {
		t.Errorf("fingerprint: got %q, want %q", got["b"].Fingerprint, "h")
	}

	// No temp files may be left behind next to the index.
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file %q", e.Name())
		}
	}
}

func TestSaveWaitsForInProgressSave(t *testing.T) {
	s := mustNewStore(t)

	// Hold the in-process save lock the way a concurrent Save would.
	s.mu.Lock()
	done := make(chan struct{})
	go func() {
		s.Save(map[string]Record{"a": {ID: "a"}})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Save completed while another save held the store")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Errorf("index written while another save held the store: %v", err)
	}

	s.mu.Unlock()
	<-done
	if got := s.Load(); len(got) != 1 {
		t.Errorf("records after save: got %d, want 1", len(got))
	}
}

func TestConcurrentSavesLeaveOneCompleteIndex(t *testing.T) {
	s := mustNewStore(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records := make(map[string]Record)
			for j := 0; j <= i; j++ {
				id := fmt.Sprintf("asset%d", j)
				records[id] = Record{ID: id, FileSize: int64(i)}
			}
			s.Save(records)
		}()
	}
	wg.Wait()

	got := s.Load()
	if len(got) == 0 {
		t.Fatal("no index after concurrent saves")
	}
	// Every record must come from the same save.
	want := int64(len(got) - 1)
	for id, r := range got {
		if r.FileSize != want {
			t.Errorf("%s: file size %d, want %d (mixed saves)", id, r.FileSize, want)
		}
	}
}

func TestSaveFailureIsSwallowed(t *testing.T) {
	s := mustNewStore(t)
	s.Save(map[string]Record{"keep": {ID: "keep"}})

	// Make the directory unusable for temp files by pointing the store at a
	// path whose parent is a regular file.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	broken := &Store{path: filepath.Join(blocker, FileName), lock: s.lock}
	broken.Save(map[string]Record{"x": {ID: "x"}}) // must not panic

	if got := s.Load(); len(got) != 1 {
		t.Errorf("original index changed: got %d records", len(got))
	}
}

func TestLoadUsesMapKeyAsIdentity(t *testing.T) {
	s := mustNewStore(t)
	data := `{"k1": {"assetIdentifier": "other", "pixelWidth": 3, "pixelHeight": 4, "fileSize": 9, "isLocal": true, "cacheStatus": "local"}}`
	if err := os.WriteFile(s.Path(), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	got := s.Load()
	if got["k1"].ID != "k1" {
		t.Errorf("ID: got %q, want %q", got["k1"].ID, "k1")
	}
}

func TestCreatedBeforeMissingDateFirst(t *testing.T) {
	withDate := Record{ID: "a", CreatedAt: ptrTime(time.Unix(0, 0))}
	without := Record{ID: "b"}
	if !CreatedBefore(without, withDate) {
		t.Error("record without date should sort first")
	}
	if CreatedBefore(withDate, without) {
		t.Error("record with date sorted before record without date")
	}
	tieA := Record{ID: "a", CreatedAt: ptrTime(time.Unix(5, 0))}
	tieB := Record{ID: "b", CreatedAt: ptrTime(time.Unix(5, 0))}
	if !CreatedBefore(tieA, tieB) || CreatedBefore(tieB, tieA) {
		t.Error("equal dates should fall back to identifier order")
	}
}
