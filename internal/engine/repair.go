package engine

import (
	"context"
	"fmt"
	"log"
)

// Repairer turns analyzer findings into corrective actions. It is the only
// engine component that mutates backend state, and only ever through
// MetadataStore.Deactivate and VectorIndex.Upsert/Delete.
type Repairer struct {
	meta       MetadataStore
	content    ContentStore
	vector     VectorIndex
	embedder   Embedder
	extractor  Extractor
	chunkRunes int
}

func NewRepairer(meta MetadataStore, content ContentStore, vector VectorIndex, embedder Embedder, extractor Extractor, chunkRunes int) *Repairer {
	if chunkRunes <= 0 {
		chunkRunes = 4000
	}
	return &Repairer{
		meta:       meta,
		content:    content,
		vector:     vector,
		embedder:   embedder,
		extractor:  extractor,
		chunkRunes: chunkRunes,
	}
}

// PlanActions maps a report onto the fixed repair policy table:
//
//	content absent, metadata present  -> DEACTIVATE_METADATA
//	vector absent/partial, indexable  -> REEMBED
//	orphan vector entry               -> REPORT_ORPHAN (never deletion)
//
// ERROR files plan nothing: an unreachable backend must not trigger repair.
// Dry-run and apply mode compute the identical action set.
func PlanActions(report *GlobalReport, dryRun bool) []RepairAction {
	var actions []RepairAction
	for _, f := range report.Files {
		switch {
		case f.Status == StatusSynced || f.Status == StatusError:
			continue
		case !f.Locations.Content:
			actions = append(actions, RepairAction{
				Identity: f.Identity,
				Kind:     ActionDeactivateMetadata,
				Reason:   "content absent, no backup source to restore from",
				DryRun:   dryRun,
			})
		case f.Indexable && !f.VectorComplete:
			actions = append(actions, RepairAction{
				Identity: f.Identity,
				Kind:     ActionReembed,
				Reason:   fmt.Sprintf("vector presence %d/%d, regenerating embeddings", f.VectorChunks, f.ExpectedChunks),
				DryRun:   dryRun,
			})
		}
		// A size mismatch alone has no automated remedy; it stays visible
		// in the report until resolved upstream.
	}
	for _, o := range report.Orphans {
		actions = append(actions, RepairAction{
			Identity: FileIdentity{OwnerID: o.OwnerID, Key: o.Key},
			Kind:     ActionReportOrphan,
			Reason:   o.Reason,
			DryRun:   dryRun,
		})
	}
	return actions
}

// Execute runs the planned actions for a report. In dry-run mode no mutating
// backend call is made; the action set is returned as-is. In apply mode
// actions run sequentially per file and execution continues past individual
// failures, collecting them in the result's error list.
func (r *Repairer) Execute(ctx context.Context, report *GlobalReport, dryRun bool) *RepairResult {
	result := &RepairResult{
		Scope:   report.Scope,
		DryRun:  dryRun,
		Actions: []ActionResult{},
		Errors:  []string{},
	}

	fileByKey := make(map[string]FileReport, len(report.Files))
	for _, f := range report.Files {
		fileByKey[contentKey(f.Identity.OwnerID, f.Identity.Key)] = f
	}

	for _, action := range PlanActions(report, dryRun) {
		ar := ActionResult{Action: action}
		if dryRun || action.Kind == ActionReportOrphan {
			result.Actions = append(result.Actions, ar)
			continue
		}

		var err error
		switch action.Kind {
		case ActionDeactivateMetadata:
			ar.Applied, err = r.deactivate(ctx, action.Identity)
		case ActionReembed:
			f := fileByKey[contentKey(action.Identity.OwnerID, action.Identity.Key)]
			ar.Applied, err = r.reembed(ctx, f)
		}
		if err != nil {
			ar.Error = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", action.Identity.OwnerID, action.Identity.Key, err))
		}
		result.Actions = append(result.Actions, ar)
	}
	return result
}

// deactivate soft-deletes a metadata record whose content is gone. The
// content store is probed again first so a file restored since analysis is
// left alone.
func (r *Repairer) deactivate(ctx context.Context, id FileIdentity) (bool, error) {
	stat, err := r.content.Stat(ctx, id.OwnerID, id.Key)
	if err != nil {
		return false, fmt.Errorf("re-verify content: %w", err)
	}
	if stat.Exists {
		log.Printf("repair: content for %s/%s reappeared, skipping deactivation", id.OwnerID, id.Key)
		return false, nil
	}
	if err := r.meta.Deactivate(ctx, id.OwnerID, id.Key); err != nil {
		return false, fmt.Errorf("deactivate metadata: %w", err)
	}
	return true, nil
}

// reembed fetches the file's content, regenerates its embeddings and upserts
// the vector entries, replacing any stale chunk entries from the pass that
// found the gap.
func (r *Repairer) reembed(ctx context.Context, f FileReport) (bool, error) {
	id := f.Identity

	meta, err := r.meta.Get(ctx, id.OwnerID, id.Key)
	if err != nil {
		return false, fmt.Errorf("re-verify metadata: %w", err)
	}

	data, err := r.content.Fetch(ctx, id.OwnerID, id.Key)
	if err != nil {
		return false, fmt.Errorf("fetch content: %w", err)
	}
	text, err := r.extractor.Extract(ctx, data, meta.ContentType)
	if err != nil {
		return false, fmt.Errorf("extract text: %w", err)
	}

	chunks := splitText(text, r.chunkRunes)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	vectors, err := r.embedder.Embed(ctx, chunks)
	if err != nil {
		return false, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return false, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	// Drop the surviving partial entries before upserting the fresh set so
	// the index never holds a mix of old and new chunk numbering.
	for _, entryID := range f.vectorEntryIDs {
		if err := r.vector.Delete(ctx, entryID); err != nil {
			return false, fmt.Errorf("delete stale entry %s: %w", entryID, err)
		}
	}

	total := len(chunks)
	for i := range chunks {
		entry := VectorEntry{
			OwnerID: id.OwnerID,
			Key:     meta.Key,
			Title:   meta.Name,
		}
		if total > 1 {
			entry.Key = fmt.Sprintf("%s#chunk_%d_of_%d", meta.Key, i+1, total)
			entry.Title = fmt.Sprintf("%s (Part %d/%d)", meta.Name, i+1, total)
			entry.ParentKey = meta.Key
			entry.ChunkIndex = i + 1
			entry.TotalChunks = total
		}
		if err := r.vector.Upsert(ctx, entry, vectors[i]); err != nil {
			return false, fmt.Errorf("upsert chunk %d/%d: %w", i+1, total, err)
		}
	}
	return true, nil
}

// splitText cuts text into fixed-size rune chunks.
func splitText(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
