package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Snapshot is the read-only presence view of one scope across the three
// backends, taken in a single fan-out pass. It is never persisted.
type Snapshot struct {
	Scope    Scope
	Metadata []MetadataEntry
	Content  map[string]ContentEntry // keyed by ownerID + "/" + key
	Vector   []VectorEntry

	ContentUnavailable bool
	VectorUnavailable  bool
}

func contentKey(ownerID, key string) string {
	return ownerID + "/" + key
}

// Collector queries the three backends for a scope's entries. Collection
// never mutates backend state.
type Collector struct {
	meta    MetadataStore
	content ContentStore
	vector  VectorIndex
	timeout time.Duration
}

func NewCollector(meta MetadataStore, content ContentStore, vector VectorIndex, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Collector{meta: meta, content: content, vector: vector, timeout: timeout}
}

// Collect fans out the three listing calls concurrently and waits for all of
// them, bounded by the collector timeout. A failed or timed-out content or
// vector listing marks that backend unavailable for the pass instead of
// aborting the other listings; a failed metadata listing fails the pass,
// since without the authoritative file list nothing useful can be reported.
func (c *Collector) Collect(ctx context.Context, scope Scope) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	snap := &Snapshot{Scope: scope, Content: make(map[string]ContentEntry)}

	var (
		wg         sync.WaitGroup
		metaErr    error
		contentErr error
		vectorErr  error
		contentLst []ContentEntry
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		snap.Metadata, metaErr = c.meta.List(ctx, scope)
	}()
	go func() {
		defer wg.Done()
		contentLst, contentErr = c.content.List(ctx, scope)
	}()
	go func() {
		defer wg.Done()
		snap.Vector, vectorErr = c.vector.List(ctx, scope)
	}()
	wg.Wait()

	if metaErr != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrMetadataUnavailable, scope, metaErr)
	}
	if contentErr != nil {
		log.Printf("collector: content store unavailable for %s: %v", scope, contentErr)
		snap.ContentUnavailable = true
	}
	if vectorErr != nil {
		log.Printf("collector: vector index unavailable for %s: %v", scope, vectorErr)
		snap.VectorUnavailable = true
	}

	for _, entry := range contentLst {
		snap.Content[contentKey(entry.OwnerID, entry.Key)] = entry
	}
	return snap, nil
}
