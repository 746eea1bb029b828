// Package vecindex adapts Meilisearch as the engine's vector embedding
// backend. One index holds all entries; chunked files appear as several
// entries carrying a parent reference.
package vecindex

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"vaultd/syncd/internal/engine"
)

const (
	idxVectors   = "vaultd_vectors"
	embedderName = "default"
	listPageSize = 1000
)

// Meili implements the engine's VectorIndex over Meilisearch.
type Meili struct {
	client    meili.ServiceManager
	dimension int
	healthy   atomic.Bool
	done      chan struct{}
}

// New creates the client and configures the vector index. The returned
// adapter keeps monitoring health in the background; listing calls fail fast
// while the backend is down, which the collector turns into an
// unavailable-this-pass flag.
func New(url, apiKey string, dimension int) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:    client,
		dimension: dimension,
		done:      make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("vecindex: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxVectors,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("vecindex: create index %s (may already exist): %v", idxVectors, err)
	}

	index := m.client.Index(idxVectors)
	filterable := []interface{}{"ownerId", "fileKey", "parentKey"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("vecindex: update filterable attrs: %v", err)
	}
	searchable := []string{"title", "fileKey"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("vecindex: update searchable attrs: %v", err)
	}
	if _, err := index.UpdateSettings(&meili.Settings{
		Embedders: map[string]meili.Embedder{
			embedderName: {Source: "userProvided", Dimensions: m.dimension},
		},
	}); err != nil {
		log.Printf("vecindex: update embedder settings: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("vecindex: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// vectorDoc is the indexed document shape.
type vectorDoc struct {
	ID          string               `json:"id"`
	OwnerID     string               `json:"ownerId"`
	FileKey     string               `json:"fileKey"`
	Title       string               `json:"title,omitempty"`
	ParentKey   string               `json:"parentKey,omitempty"`
	ChunkIndex  int                  `json:"chunkIndex,omitempty"`
	TotalChunks int                  `json:"totalChunks,omitempty"`
	Vectors     map[string][]float32 `json:"_vectors,omitempty"`
}

// docID derives the index document id. Logical keys carry characters
// Meilisearch rejects in ids (slashes, chunk suffixes), so ids are a hash of
// owner and key.
func docID(ownerID, key string) string {
	sum := sha1.Sum([]byte(ownerID + "/" + key))
	return hex.EncodeToString(sum[:])
}

// List pages through the scope's entries.
func (m *Meili) List(ctx context.Context, scope engine.Scope) ([]engine.VectorEntry, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	var filter []string
	if owner, ok := scope.Owner(); ok {
		filter = append(filter, fmt.Sprintf("ownerId = %q", owner))
	}

	index := m.client.Index(idxVectors)
	entries := make([]engine.VectorEntry, 0)
	for offset := int64(0); ; offset += listPageSize {
		req := &meili.SearchRequest{
			Limit:  listPageSize,
			Offset: offset,
		}
		if len(filter) > 0 {
			req.Filter = filter
		}
		resp, err := index.SearchWithContext(ctx, "", req)
		if err != nil {
			m.healthy.Store(false)
			return nil, fmt.Errorf("list vector entries: %w", err)
		}
		for _, hit := range resp.Hits {
			entries = append(entries, hitToEntry(hit))
		}
		if int64(len(resp.Hits)) < listPageSize {
			break
		}
	}
	return entries, nil
}

func hitToEntry(hit meili.Hit) engine.VectorEntry {
	return engine.VectorEntry{
		ID:          decodeString(hit, "id"),
		OwnerID:     decodeString(hit, "ownerId"),
		Key:         decodeString(hit, "fileKey"),
		Title:       decodeString(hit, "title"),
		ParentKey:   decodeString(hit, "parentKey"),
		ChunkIndex:  decodeInt(hit, "chunkIndex"),
		TotalChunks: decodeInt(hit, "totalChunks"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// Upsert adds or replaces one entry together with its vector.
func (m *Meili) Upsert(ctx context.Context, entry engine.VectorEntry, vector []float32) error {
	doc := vectorDoc{
		ID:          entry.ID,
		OwnerID:     entry.OwnerID,
		FileKey:     entry.Key,
		Title:       entry.Title,
		ParentKey:   entry.ParentKey,
		ChunkIndex:  entry.ChunkIndex,
		TotalChunks: entry.TotalChunks,
	}
	if doc.ID == "" {
		doc.ID = docID(entry.OwnerID, entry.Key)
	}
	if len(vector) > 0 {
		doc.Vectors = map[string][]float32{embedderName: vector}
	}
	if _, err := m.client.Index(idxVectors).AddDocumentsWithContext(ctx, []vectorDoc{doc}, nil); err != nil {
		return fmt.Errorf("upsert vector entry %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes one entry by document id. Called by the repair executor
// when replacing stale chunk entries, and by the operator-confirmed orphan
// purge. Never called during analysis.
func (m *Meili) Delete(ctx context.Context, id string) error {
	if _, err := m.client.Index(idxVectors).DeleteDocumentWithContext(ctx, id, nil); err != nil {
		return fmt.Errorf("delete vector entry %s: %w", id, err)
	}
	return nil
}
