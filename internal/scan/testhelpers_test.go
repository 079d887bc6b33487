package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eargollo/assetindex/internal/asset"
	"github.com/eargollo/assetindex/internal/index"
)

type fakeAsset struct {
	ref   asset.Ref
	data  []byte
	local bool
}

// fakeProvider is an in-memory asset.Provider with hooks to block or fail
// individual calls.
type fakeProvider struct {
	mu     sync.Mutex
	assets map[string]*fakeAsset
	order  []string

	opens atomic.Int64

	// enumerateHook runs after the listing is taken, before Enumerate returns.
	enumerateHook func()
	// openHook runs inside Open for every fetched asset.
	openHook func(id string)
	// deleteFn replaces the default delete behaviour when set.
	deleteFn func(ids []string) ([]string, error)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{assets: make(map[string]*fakeAsset)}
}

// add registers an asset with the given dimensions and content. Size is
// taken from the content length.
func (p *fakeProvider) add(id string, w, h int, created int64, data string, local bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref := asset.Ref{ID: id, Width: w, Height: h, Size: int64(len(data))}
	if created >= 0 {
		t := time.Unix(created, 0)
		ref.CreatedAt = &t
	}
	p.assets[id] = &fakeAsset{ref: ref, data: []byte(data), local: local}
	p.order = append(p.order, id)
}

func (p *fakeProvider) Enumerate(ctx context.Context) ([]asset.Ref, error) {
	p.mu.Lock()
	var refs []asset.Ref
	for _, id := range p.order {
		if a, ok := p.assets[id]; ok {
			refs = append(refs, a.ref)
		}
	}
	hook := p.enumerateHook
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return refs, ctx.Err()
}

func (p *fakeProvider) ProbeLocal(_ context.Context, ref asset.Ref) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[ref.ID]
	return ok && a.local
}

func (p *fakeProvider) Open(_ context.Context, ref asset.Ref, allowNetwork bool) (io.ReadCloser, bool, error) {
	p.mu.Lock()
	a, ok := p.assets[ref.ID]
	hook := p.openHook
	p.mu.Unlock()
	if !ok {
		return nil, false, asset.ErrNotFound
	}
	if !a.local && !allowNetwork {
		return nil, false, asset.ErrRemoteNotAllowed
	}
	p.opens.Add(1)
	if hook != nil {
		hook(ref.ID)
	}
	return io.NopCloser(bytes.NewReader(a.data)), !a.local, nil
}

func (p *fakeProvider) Delete(_ context.Context, ids []string) ([]string, error) {
	if p.deleteFn != nil {
		return p.deleteFn(ids)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var deleted []string
	for _, id := range ids {
		if _, ok := p.assets[id]; ok {
			delete(p.assets, id)
			deleted = append(deleted, id)
		}
	}
	if len(deleted) == 0 {
		return nil, asset.ErrNotFound
	}
	return deleted, nil
}

// memStore is a RecordStore that keeps every save in memory.
type memStore struct {
	mu      sync.Mutex
	initial map[string]index.Record
	saves   int
	last    map[string]index.Record
}

func (s *memStore) Load() map[string]index.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initial == nil {
		return make(map[string]index.Record)
	}
	return maps.Clone(s.initial)
}

func (s *memStore) Save(records map[string]index.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = maps.Clone(records)
}

func (s *memStore) snapshot() (int, map[string]index.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, maps.Clone(s.last)
}

func testConfig() Config {
	return Config{CheckpointEvery: 25, PollInterval: 5 * time.Millisecond, LocalOnly: true}
}

// mustStartAndWait runs a full scan and fails the test if it does not finish.
func mustStartAndWait(tb testing.TB, m *Manager) {
	tb.Helper()
	if _, err := m.Start(context.Background(), "test"); err != nil {
		tb.Fatalf("start: %v", err)
	}
	waitDone(tb, m, 5*time.Second)
}

func waitDone(tb testing.TB, m *Manager, timeout time.Duration) {
	tb.Helper()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		tb.Fatal("scan did not finish in time")
	}
}

// addCandidates registers n local assets sharing one bucket, each with
// distinct content of equal length.
func addCandidates(p *fakeProvider, n int) {
	for i := 0; i < n; i++ {
		p.add(fmt.Sprintf("cand%02d", i), 64, 64, int64(i), fmt.Sprintf("content-%04d", i), true)
	}
}
