package engine

import (
	"fmt"
	"sort"
	"time"
)

// vectorFold accumulates the vector-index presence signal for one identity.
// Multiple chunk entries of the same parent collapse into a single signal;
// at least one surviving chunk counts as presence.
type vectorFold struct {
	whole    bool
	chunks   map[int]bool
	expected int
	entryIDs []string
}

func (f *vectorFold) addWhole(id string) {
	f.whole = true
	f.entryIDs = append(f.entryIDs, id)
}

func (f *vectorFold) addChunk(id string, index, total int) {
	if f.chunks == nil {
		f.chunks = make(map[int]bool)
	}
	f.chunks[index] = true
	if total > f.expected {
		f.expected = total
	}
	f.entryIDs = append(f.entryIDs, id)
}

func (f *vectorFold) present() bool {
	return f != nil && (f.whole || len(f.chunks) > 0)
}

// complete reports whether the folded presence covers the whole file. When
// the chunk encoding never carried an expected total, any surviving chunk is
// treated as complete; partial presence cannot be proven without a total.
func (f *vectorFold) complete() bool {
	if f == nil {
		return false
	}
	if f.whole {
		return true
	}
	if len(f.chunks) == 0 {
		return false
	}
	return f.expected == 0 || len(f.chunks) >= f.expected
}

// Analyze joins a snapshot's three per-backend views by file identity and
// classifies each file. The metadata store is authoritative for which files
// exist. Identical snapshots always produce identical reports.
func Analyze(snap *Snapshot) *GlobalReport {
	byKey := make(map[string]MetadataEntry, len(snap.Metadata))
	byName := make(map[string]MetadataEntry, len(snap.Metadata))
	for _, m := range snap.Metadata {
		byKey[contentKey(m.OwnerID, m.Key)] = m
		byName[m.OwnerID+"\x00"+m.Name] = m
	}

	folds := make(map[string]*vectorFold)
	fold := func(m MetadataEntry) *vectorFold {
		k := contentKey(m.OwnerID, m.Key)
		f := folds[k]
		if f == nil {
			f = &vectorFold{}
			folds[k] = f
		}
		return f
	}

	var orphans []OrphanEntry
	for _, entry := range snap.Vector {
		if m, ok := byKey[contentKey(entry.OwnerID, entry.Key)]; ok {
			fold(m).addWhole(entry.ID)
			continue
		}
		ref := ResolveChunkRef(entry)
		switch ref.Kind {
		case ChunkBySuffix, ChunkByExplicitField:
			if m, ok := byKey[contentKey(entry.OwnerID, ref.Parent)]; ok {
				fold(m).addChunk(entry.ID, ref.Index, ref.Total)
				continue
			}
			orphans = append(orphans, OrphanEntry{
				ID: entry.ID, OwnerID: entry.OwnerID, Key: entry.Key,
				Reason: fmt.Sprintf("parent key %q has no metadata record", ref.Parent),
			})
		case ChunkByTitle:
			if m, ok := byName[entry.OwnerID+"\x00"+ref.Parent]; ok {
				fold(m).addChunk(entry.ID, ref.Index, ref.Total)
				continue
			}
			orphans = append(orphans, OrphanEntry{
				ID: entry.ID, OwnerID: entry.OwnerID, Key: entry.Key,
				Reason: fmt.Sprintf("parent name %q has no metadata record", ref.Parent),
			})
		default:
			orphans = append(orphans, OrphanEntry{
				ID: entry.ID, OwnerID: entry.OwnerID, Key: entry.Key,
				Reason: "no owning metadata record and no recognizable chunk reference",
			})
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })

	report := &GlobalReport{
		Scope:       snap.Scope.Key(),
		GeneratedAt: time.Now().UTC(),
		TotalFiles:  len(snap.Metadata),
		Orphans:     orphans,
	}
	if snap.ContentUnavailable {
		report.Unavailable = append(report.Unavailable, "content")
	}
	if snap.VectorUnavailable {
		report.Unavailable = append(report.Unavailable, "vector")
	}

	files := make([]FileReport, 0, len(snap.Metadata))
	for _, m := range snap.Metadata {
		files = append(files, classify(snap, m, folds[contentKey(m.OwnerID, m.Key)]))
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Identity.OwnerID != files[j].Identity.OwnerID {
			return files[i].Identity.OwnerID < files[j].Identity.OwnerID
		}
		return files[i].Identity.Key < files[j].Identity.Key
	})
	report.Files = files

	for _, f := range files {
		if f.Status == StatusSynced {
			report.Synced++
		} else {
			report.Issues++
		}
	}
	return report
}

func classify(snap *Snapshot, m MetadataEntry, f *vectorFold) FileReport {
	indexable := Indexable(m.ContentType)
	content, hasContent := snap.Content[contentKey(m.OwnerID, m.Key)]

	fr := FileReport{
		Identity:     FileIdentity{OwnerID: m.OwnerID, Key: m.Key, Name: m.Name},
		ContentType:  m.ContentType,
		MetadataSize: m.Size,
		Indexable:    indexable,
		Locations: Locations{
			Metadata: true,
			Content:  hasContent,
			Vector:   f.present(),
		},
		Issues: []string{},
	}
	if hasContent {
		fr.ContentSize = content.Size
	}
	if f != nil {
		fr.VectorChunks = len(f.chunks)
		if f.whole && fr.VectorChunks == 0 {
			fr.VectorChunks = 1
		}
		fr.ExpectedChunks = f.expected
		fr.vectorEntryIDs = append([]string(nil), f.entryIDs...)
	}
	fr.VectorComplete = f.complete()

	// A backend that was unreachable this pass cannot vouch for absence;
	// classify as ERROR rather than MISSING so a transient outage never
	// suggests destructive repair.
	if snap.ContentUnavailable || (snap.VectorUnavailable && indexable) {
		fr.Status = StatusError
		if snap.ContentUnavailable {
			fr.Issues = append(fr.Issues, "content store unavailable this pass")
		}
		if snap.VectorUnavailable && indexable {
			fr.Issues = append(fr.Issues, "vector index unavailable this pass")
		}
		return fr
	}

	sizeMismatch := hasContent && m.Size > 0 && content.Size != m.Size

	switch {
	case !hasContent:
		fr.Status = StatusMissing
		fr.Issues = append(fr.Issues, "content absent, unretrievable")
	case indexable && !f.present():
		fr.Status = StatusMissing
		fr.Issues = append(fr.Issues, "missing from vector index, should be embedded")
	case (indexable && !f.complete()) || sizeMismatch:
		fr.Status = StatusOutOfSync
		if indexable && !f.complete() {
			fr.Issues = append(fr.Issues, fmt.Sprintf("partial vector presence (%d/%d chunks)", len(f.chunks), f.expected))
		}
		if sizeMismatch {
			fr.Issues = append(fr.Issues, fmt.Sprintf("size mismatch: metadata %d bytes, content %d bytes", m.Size, content.Size))
		}
	default:
		fr.Status = StatusSynced
	}
	return fr
}
