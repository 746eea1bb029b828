package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrMetadataUnavailable means the authoritative file list could not be
// built. Analysis fails outright in that case; there is nothing safe to
// report without it.
var ErrMetadataUnavailable = errors.New("metadata store unavailable")

// MetadataEntry is one active file record from the metadata store, the
// authoritative view of what files exist.
type MetadataEntry struct {
	OwnerID     string
	Key         string
	Name        string
	ContentType string
	Size        int64
}

// ContentEntry is one object listed from the content-blob store.
type ContentEntry struct {
	OwnerID string
	Key     string
	Size    int64
}

// VectorEntry is one entry listed from the vector index. Key is the logical
// key the entry was indexed under and may carry a chunk suffix; ParentKey is
// set when the index stored an explicit parent reference.
type VectorEntry struct {
	ID          string
	OwnerID     string
	Key         string
	Title       string
	ParentKey   string
	ChunkIndex  int
	TotalChunks int
}

// ContentStat is the result of a single-object existence probe.
type ContentStat struct {
	Exists bool
	Size   int64
}

// MetadataStore is the engine's view of the file metadata backend.
type MetadataStore interface {
	List(ctx context.Context, scope Scope) ([]MetadataEntry, error)
	Get(ctx context.Context, ownerID, key string) (MetadataEntry, error)
	// Deactivate soft-deletes the record. Reapplying to an already
	// deactivated file is a no-op.
	Deactivate(ctx context.Context, ownerID, key string) error
}

// ContentStore is the engine's view of the blob backend. The engine never
// deletes content, so the interface does not expose a delete.
type ContentStore interface {
	List(ctx context.Context, scope Scope) ([]ContentEntry, error)
	Stat(ctx context.Context, ownerID, key string) (ContentStat, error)
	Fetch(ctx context.Context, ownerID, key string) ([]byte, error)
}

// VectorIndex is the engine's view of the embedding index. Upsert and Delete
// are used only by the repair executor; orphan entries are never deleted
// without an explicit operator-confirmed purge.
type VectorIndex interface {
	List(ctx context.Context, scope Scope) ([]VectorEntry, error)
	Upsert(ctx context.Context, entry VectorEntry, vector []float32) error
	Delete(ctx context.Context, id string) error
}

// Embedder turns text chunks into vectors. The model itself is an external
// collaborator.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor turns raw content bytes into indexable text. Document parsing
// lives outside the engine.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// Notifier receives a status-changed event whenever a scope's issue count
// moves between analysis passes.
type Notifier interface {
	StatusChanged(ctx context.Context, scope Scope, previousIssues, issues int)
}

// ReportCache holds the last report per scope. Each scope has its own entry
// and staleness timestamp; refreshing one scope never invalidates another.
type ReportCache interface {
	Get(ctx context.Context, scope Scope) (*GlobalReport, bool, error)
	Put(ctx context.Context, scope Scope, report *GlobalReport, ttl time.Duration) error
}

// Indexable reports whether a content type is expected to have vector index
// entries. Binary formats the platform never embeds are exempt from the
// vector presence check.
func Indexable(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	switch ct {
	case "application/pdf",
		"application/json",
		"application/xml",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/rtf":
		return true
	}
	return false
}
