package engine

import "time"

// SyncStatus classifies one file's cross-store state.
type SyncStatus string

const (
	StatusSynced    SyncStatus = "SYNCED"
	StatusOutOfSync SyncStatus = "OUT_OF_SYNC"
	StatusMissing   SyncStatus = "MISSING"
	StatusError     SyncStatus = "ERROR"
)

// FileIdentity is the one stable identity per logical file, derived from the
// metadata record. Unique per owner+key.
type FileIdentity struct {
	OwnerID string `json:"ownerId"`
	Key     string `json:"fileKey"`
	Name    string `json:"fileName"`
}

// Locations records binary presence per backend for one file.
type Locations struct {
	Metadata bool `json:"metadata"`
	Content  bool `json:"content"`
	Vector   bool `json:"vector"`
}

// FileReport is the per-file outcome of one analysis pass.
type FileReport struct {
	Identity    FileIdentity `json:"identity"`
	ContentType string       `json:"contentType"`
	Locations   Locations    `json:"locations"`
	Status      SyncStatus   `json:"syncStatus"`
	Issues      []string     `json:"issues"`

	MetadataSize   int64 `json:"metadataSize"`
	ContentSize    int64 `json:"contentSize"`
	VectorChunks   int   `json:"vectorChunks"`
	ExpectedChunks int   `json:"expectedChunks"`
	Indexable      bool  `json:"indexable"`
	VectorComplete bool  `json:"vectorComplete"`

	// Index entry ids backing this file's vector presence. Only meaningful
	// within the pass that produced the report; repair re-analyzes before
	// acting, so these are never read from a cached copy.
	vectorEntryIDs []string
}

// OrphanEntry is a vector index entry with no resolvable owning metadata
// record. Reported only; deletion requires an explicit confirmed purge.
type OrphanEntry struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Key     string `json:"key"`
	Reason  string `json:"reason"`
}

// GlobalReport aggregates one analysis pass over a scope.
type GlobalReport struct {
	Scope       string        `json:"scope"`
	GeneratedAt time.Time     `json:"generatedAt"`
	TotalFiles  int           `json:"totalFiles"`
	Synced      int           `json:"synced"`
	Issues      int           `json:"issues"`
	Files       []FileReport  `json:"files"`
	Orphans     []OrphanEntry `json:"orphans"`
	// Backends that were unreachable during this pass. Files they would
	// have vouched for are classified ERROR, never MISSING.
	Unavailable []string `json:"unavailable,omitempty"`
}

// ActionKind names a repair policy outcome.
type ActionKind string

const (
	ActionDeactivateMetadata ActionKind = "DEACTIVATE_METADATA"
	ActionReembed            ActionKind = "REEMBED"
	ActionReportOrphan       ActionKind = "REPORT_ORPHAN"
)

// RepairAction is one planned corrective step for one file.
type RepairAction struct {
	Identity FileIdentity `json:"identity"`
	Kind     ActionKind   `json:"kind"`
	Reason   string       `json:"reason"`
	DryRun   bool         `json:"dryRun"`
}

// ActionResult is the execution outcome of one action.
type ActionResult struct {
	Action  RepairAction `json:"action"`
	Applied bool         `json:"applied"`
	Error   string       `json:"error,omitempty"`
}

// RepairResult is the outcome of one repair pass. Individual failures are
// collected here rather than aborting the batch.
type RepairResult struct {
	Scope   string         `json:"scope"`
	DryRun  bool           `json:"dryRun"`
	Actions []ActionResult `json:"actions"`
	Errors  []string       `json:"errors"`
}

// PurgeResult is the outcome of an operator-confirmed orphan purge.
type PurgeResult struct {
	Scope   string   `json:"scope"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors"`
}
