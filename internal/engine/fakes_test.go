package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeMeta is an in-memory metadata store that records mutations.
type fakeMeta struct {
	mu          sync.Mutex
	entries     []MetadataEntry
	listErr     error
	listDelay   time.Duration
	listCalls   int
	deactivated []string
}

func (f *fakeMeta) List(ctx context.Context, scope Scope) ([]MetadataEntry, error) {
	f.mu.Lock()
	f.listCalls++
	delay := f.listDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []MetadataEntry
	for _, e := range f.entries {
		if owner, ok := scope.Owner(); ok && e.OwnerID != owner {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeMeta) Get(_ context.Context, ownerID, key string) (MetadataEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.OwnerID == ownerID && e.Key == key {
			return e, nil
		}
	}
	return MetadataEntry{}, fmt.Errorf("file %s/%s not found", ownerID, key)
}

func (f *fakeMeta) Deactivate(_ context.Context, ownerID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, ownerID+"/"+key)
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.OwnerID != ownerID || e.Key != key {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

// fakeContent is an in-memory content store. It has no mutating methods at
// all, matching the engine's contract of never deleting content.
type fakeContent struct {
	mu        sync.Mutex
	entries   []ContentEntry
	data      map[string][]byte
	listErr   error
	listDelay time.Duration
	statErr   error
}

func (f *fakeContent) List(ctx context.Context, scope Scope) ([]ContentEntry, error) {
	f.mu.Lock()
	delay := f.listDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []ContentEntry
	for _, e := range f.entries {
		if owner, ok := scope.Owner(); ok && e.OwnerID != owner {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeContent) Stat(_ context.Context, ownerID, key string) (ContentStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statErr != nil {
		return ContentStat{}, f.statErr
	}
	for _, e := range f.entries {
		if e.OwnerID == ownerID && e.Key == key {
			return ContentStat{Exists: true, Size: e.Size}, nil
		}
	}
	return ContentStat{}, nil
}

func (f *fakeContent) Fetch(_ context.Context, ownerID, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[ownerID+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", ownerID, key)
	}
	return data, nil
}

// fakeVector is an in-memory vector index that records every mutation.
type fakeVector struct {
	mu        sync.Mutex
	entries   []VectorEntry
	listErr   error
	listDelay time.Duration
	upserts   []VectorEntry
	deletes   []string
	upsertErr error
}

func (f *fakeVector) List(ctx context.Context, scope Scope) ([]VectorEntry, error) {
	f.mu.Lock()
	delay := f.listDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []VectorEntry
	for _, e := range f.entries {
		if owner, ok := scope.Owner(); ok && e.OwnerID != owner {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeVector) Upsert(_ context.Context, entry VectorEntry, _ []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if entry.ID == "" {
		entry.ID = entry.OwnerID + "/" + entry.Key
	}
	f.upserts = append(f.upserts, entry)
	for i, e := range f.entries {
		if e.ID == entry.ID {
			f.entries[i] = entry
			return nil
		}
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeVector) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

func (f *fakeVector) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts) + len(f.deletes)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i]))}
	}
	return vectors, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	return string(data), nil
}

// memCache is an in-memory ReportCache for coordinator tests.
type memCache struct {
	mu      sync.Mutex
	reports map[string]*GlobalReport
}

func newMemCache() *memCache {
	return &memCache{reports: make(map[string]*GlobalReport)}
}

func (c *memCache) Get(_ context.Context, scope Scope) (*GlobalReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	report, ok := c.reports[scope.Key()]
	return report, ok, nil
}

func (c *memCache) Put(_ context.Context, scope Scope, report *GlobalReport, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[scope.Key()] = report
	return nil
}

type statusEvent struct {
	scope    string
	previous int
	issues   int
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []statusEvent
}

func (f *fakeNotifier) StatusChanged(_ context.Context, scope Scope, previous, issues int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, statusEvent{scope: scope.Key(), previous: previous, issues: issues})
}

func (f *fakeNotifier) recorded() []statusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusEvent(nil), f.events...)
}

// fixture builders

func metaFile(owner, key, name, contentType string, size int64) MetadataEntry {
	return MetadataEntry{OwnerID: owner, Key: key, Name: name, ContentType: contentType, Size: size}
}

func contentFile(owner, key string, size int64) ContentEntry {
	return ContentEntry{OwnerID: owner, Key: key, Size: size}
}

func vectorWhole(owner, key, title string) VectorEntry {
	return VectorEntry{ID: owner + "/" + key, OwnerID: owner, Key: key, Title: title}
}

func vectorChunk(owner, parentKey string, index, total int) VectorEntry {
	key := fmt.Sprintf("%s#chunk_%d_of_%d", parentKey, index, total)
	return VectorEntry{ID: owner + "/" + key, OwnerID: owner, Key: key}
}

func newTestCoordinator(meta *fakeMeta, content *fakeContent, vector *fakeVector, cache ReportCache, notifier Notifier) *Coordinator {
	collector := NewCollector(meta, content, vector, time.Second)
	repairer := NewRepairer(meta, content, vector, &fakeEmbedder{}, fakeExtractor{}, 4000)
	return NewCoordinator(collector, repairer, cache, notifier, time.Hour, time.Hour)
}
