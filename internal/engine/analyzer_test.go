package engine

import (
	"context"
	"strings"
	"testing"
	"time"
)

func snapshotFor(t *testing.T, meta *fakeMeta, content *fakeContent, vector *fakeVector, scope Scope) *Snapshot {
	t.Helper()
	collector := NewCollector(meta, content, vector, time.Second)
	snap, err := collector.Collect(context.Background(), scope)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	return snap
}

func fileByKey(t *testing.T, report *GlobalReport, key string) FileReport {
	t.Helper()
	for _, f := range report.Files {
		if f.Identity.Key == key {
			return f
		}
	}
	t.Fatalf("file %s not in report", key)
	return FileReport{}
}

func hasIssue(f FileReport, substr string) bool {
	for _, issue := range f.Issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}

func TestAnalyzeFullyPresentIsSynced(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "notes.txt", "text/plain", 10),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_a", 10)}}
	vector := &fakeVector{entries: []VectorEntry{vectorWhole("u1", "file_a", "notes.txt")}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	f := fileByKey(t, report, "file_a")
	if f.Status != StatusSynced {
		t.Errorf("expected SYNCED, got %s (issues %v)", f.Status, f.Issues)
	}
	if report.TotalFiles != 1 || report.Synced != 1 || report.Issues != 0 {
		t.Errorf("counts: total=%d synced=%d issues=%d", report.TotalFiles, report.Synced, report.Issues)
	}
}

func TestAnalyzeThreeWayDivergence(t *testing.T) {
	// A: content ok, 2/2 chunks. B: content ok, no vector entries.
	// C: metadata active, no content.
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "a.txt", "text/plain", 5),
		metaFile("u1", "file_b", "b.txt", "text/plain", 5),
		metaFile("u1", "file_c", "c.txt", "text/plain", 5),
	}}
	content := &fakeContent{entries: []ContentEntry{
		contentFile("u1", "file_a", 5),
		contentFile("u1", "file_b", 5),
	}}
	vector := &fakeVector{entries: []VectorEntry{
		vectorChunk("u1", "file_a", 1, 2),
		vectorChunk("u1", "file_a", 2, 2),
	}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	a := fileByKey(t, report, "file_a")
	if a.Status != StatusSynced {
		t.Errorf("A: expected SYNCED, got %s (%v)", a.Status, a.Issues)
	}
	b := fileByKey(t, report, "file_b")
	if b.Status != StatusMissing || !hasIssue(b, "should be embedded") {
		t.Errorf("B: expected MISSING with embed hint, got %s (%v)", b.Status, b.Issues)
	}
	c := fileByKey(t, report, "file_c")
	if c.Status != StatusMissing || !hasIssue(c, "content absent") {
		t.Errorf("C: expected MISSING with content absent, got %s (%v)", c.Status, c.Issues)
	}
	if report.TotalFiles != 3 || report.Synced != 1 || report.Issues != 2 {
		t.Errorf("counts: total=%d synced=%d issues=%d", report.TotalFiles, report.Synced, report.Issues)
	}
}

func TestAnalyzePartialChunksIsOutOfSyncNeverMissing(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "big.txt", "text/plain", 100),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_a", 100)}}
	vector := &fakeVector{entries: []VectorEntry{
		vectorChunk("u1", "file_a", 1, 3),
		vectorChunk("u1", "file_a", 3, 3),
	}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	f := fileByKey(t, report, "file_a")
	if f.Status != StatusOutOfSync {
		t.Fatalf("expected OUT_OF_SYNC, got %s (%v)", f.Status, f.Issues)
	}
	if !hasIssue(f, "partial vector presence (2/3 chunks)") {
		t.Errorf("expected partial presence issue, got %v", f.Issues)
	}
	if !f.Locations.Vector {
		t.Error("a partially chunked file still counts as vector-present")
	}
}

func TestAnalyzeTitleEncodedChunksResolveByName(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_q", "Quarterly Report", "text/plain", 40),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_q", 40)}}
	vector := &fakeVector{entries: []VectorEntry{
		{ID: "v1", OwnerID: "u1", Key: "vec_1", Title: "Quarterly Report (Part 1/2)"},
		{ID: "v2", OwnerID: "u1", Key: "vec_2", Title: "Quarterly Report (Part 2/2)"},
	}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	f := fileByKey(t, report, "file_q")
	if f.Status != StatusSynced {
		t.Errorf("expected SYNCED via title-encoded chunks, got %s (%v)", f.Status, f.Issues)
	}
	if len(report.Orphans) != 0 {
		t.Errorf("expected no orphans, got %v", report.Orphans)
	}
}

func TestAnalyzeExplicitParentFieldResolves(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_x", "x.md", "text/markdown", 30),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_x", 30)}}
	vector := &fakeVector{entries: []VectorEntry{
		{ID: "v1", OwnerID: "u1", Key: "vec_a", ParentKey: "file_x", ChunkIndex: 1, TotalChunks: 1},
	}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	if f := fileByKey(t, report, "file_x"); f.Status != StatusSynced {
		t.Errorf("expected SYNCED via explicit parent field, got %s (%v)", f.Status, f.Issues)
	}
}

func TestAnalyzeOrphansReportedNotCounted(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "a.txt", "text/plain", 5),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_a", 5)}}
	vector := &fakeVector{entries: []VectorEntry{
		vectorWhole("u1", "file_a", "a.txt"),
		{ID: "v_orphan1", OwnerID: "u1", Key: "ghost_key"},
		{ID: "v_orphan2", OwnerID: "u1", Key: "deleted#chunk_2_of_4"},
		{ID: "v_orphan3", OwnerID: "u1", Key: "vec_z", Title: "Gone File (Part 1/3)"},
	}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	if report.TotalFiles != 1 || report.Synced != 1 {
		t.Errorf("orphans must not affect counts: total=%d synced=%d", report.TotalFiles, report.Synced)
	}
	if len(report.Orphans) != 3 {
		t.Fatalf("expected 3 orphan candidates, got %d", len(report.Orphans))
	}
	for _, o := range report.Orphans {
		if o.Reason == "" {
			t.Errorf("orphan %s has no reason", o.ID)
		}
	}
}

func TestAnalyzeSizeMismatchIsOutOfSync(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "a.txt", "text/plain", 100),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_a", 90)}}
	vector := &fakeVector{entries: []VectorEntry{vectorWhole("u1", "file_a", "a.txt")}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	f := fileByKey(t, report, "file_a")
	if f.Status != StatusOutOfSync || !hasIssue(f, "size mismatch") {
		t.Errorf("expected OUT_OF_SYNC with size mismatch, got %s (%v)", f.Status, f.Issues)
	}
}

func TestAnalyzeExemptTypeSyncedWithoutVector(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_img", "photo.png", "image/png", 2048),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_img", 2048)}}
	vector := &fakeVector{}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	if f := fileByKey(t, report, "file_img"); f.Status != StatusSynced {
		t.Errorf("non-indexable type without vector entries should be SYNCED, got %s (%v)", f.Status, f.Issues)
	}
}

func TestAnalyzeVectorUnavailableIsErrorNeverMissing(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "a.txt", "text/plain", 5),
		metaFile("u2", "file_b", "b.txt", "text/plain", 5),
	}}
	content := &fakeContent{entries: []ContentEntry{
		contentFile("u1", "file_a", 5),
		contentFile("u2", "file_b", 5),
	}}
	vector := &fakeVector{listErr: context.DeadlineExceeded}

	report := Analyze(snapshotFor(t, meta, content, vector, AllScopes()))

	for _, f := range report.Files {
		if f.Status != StatusError {
			t.Errorf("%s: expected ERROR during vector outage, got %s", f.Identity.Key, f.Status)
		}
	}
	if report.Issues != report.TotalFiles {
		t.Errorf("expected issues==totalFiles, got %d/%d", report.Issues, report.TotalFiles)
	}
	if actions := PlanActions(report, false); len(actions) != 0 {
		t.Errorf("an outage must plan zero repair actions, got %d", len(actions))
	}
}

func TestAnalyzeContentUnavailableIsError(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "a.txt", "text/plain", 5),
	}}
	content := &fakeContent{listErr: context.DeadlineExceeded}
	vector := &fakeVector{entries: []VectorEntry{vectorWhole("u1", "file_a", "a.txt")}}

	report := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))

	f := fileByKey(t, report, "file_a")
	if f.Status != StatusError || !hasIssue(f, "content store unavailable") {
		t.Errorf("expected ERROR with unavailability issue, got %s (%v)", f.Status, f.Issues)
	}
}

func TestAnalyzeAllScopesEqualsUnionOfOwners(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_a", "a.txt", "text/plain", 5),
		metaFile("u1", "file_b", "b.txt", "text/plain", 5),
		metaFile("u2", "file_c", "c.txt", "text/plain", 5),
	}}
	content := &fakeContent{entries: []ContentEntry{
		contentFile("u1", "file_a", 5),
		contentFile("u2", "file_c", 5),
	}}
	vector := &fakeVector{entries: []VectorEntry{
		vectorWhole("u1", "file_a", "a.txt"),
	}}

	all := Analyze(snapshotFor(t, meta, content, vector, AllScopes()))
	u1 := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u1")))
	u2 := Analyze(snapshotFor(t, meta, content, vector, OwnerScope("u2")))

	if all.TotalFiles != u1.TotalFiles+u2.TotalFiles {
		t.Errorf("total: all=%d union=%d", all.TotalFiles, u1.TotalFiles+u2.TotalFiles)
	}
	if all.Synced != u1.Synced+u2.Synced {
		t.Errorf("synced: all=%d union=%d", all.Synced, u1.Synced+u2.Synced)
	}
	if all.Issues != u1.Issues+u2.Issues {
		t.Errorf("issues: all=%d union=%d", all.Issues, u1.Issues+u2.Issues)
	}
	for _, perOwner := range [][]FileReport{u1.Files, u2.Files} {
		for _, f := range perOwner {
			if got := fileByKey(t, all, f.Identity.Key); got.Status != f.Status {
				t.Errorf("%s: all-scope status %s, per-owner %s", f.Identity.Key, got.Status, f.Status)
			}
		}
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	meta := &fakeMeta{entries: []MetadataEntry{
		metaFile("u1", "file_b", "b.txt", "text/plain", 5),
		metaFile("u1", "file_a", "a.txt", "text/plain", 5),
	}}
	content := &fakeContent{entries: []ContentEntry{contentFile("u1", "file_a", 5)}}
	vector := &fakeVector{entries: []VectorEntry{
		{ID: "v2", OwnerID: "u1", Key: "zzz"},
		{ID: "v1", OwnerID: "u1", Key: "aaa"},
	}}

	snap := snapshotFor(t, meta, content, vector, OwnerScope("u1"))
	first := Analyze(snap)
	second := Analyze(snap)

	if len(first.Files) != len(second.Files) {
		t.Fatalf("file counts differ: %d vs %d", len(first.Files), len(second.Files))
	}
	for i := range first.Files {
		if first.Files[i].Identity != second.Files[i].Identity || first.Files[i].Status != second.Files[i].Status {
			t.Errorf("file %d differs between runs", i)
		}
	}
	if first.Files[0].Identity.Key != "file_a" {
		t.Errorf("files should be sorted by key, got %s first", first.Files[0].Identity.Key)
	}
	for i := range first.Orphans {
		if first.Orphans[i] != second.Orphans[i] {
			t.Errorf("orphan %d differs between runs", i)
		}
	}
}
