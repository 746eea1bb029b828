package engine

import (
	"regexp"
	"strconv"
)

// ChunkRefKind tags how a vector entry's parent reference was encoded.
type ChunkRefKind int

const (
	ChunkNone ChunkRefKind = iota
	ChunkBySuffix
	ChunkByTitle
	ChunkByExplicitField
)

func (k ChunkRefKind) String() string {
	switch k {
	case ChunkBySuffix:
		return "suffix"
	case ChunkByTitle:
		return "title"
	case ChunkByExplicitField:
		return "explicit"
	default:
		return "none"
	}
}

// ChunkRef is the parsed parent reference of a chunked vector entry. For
// suffix and explicit references Parent is the parent file key; for title
// references it is the parent display name. Total is 0 when the encoding
// does not carry the expected chunk count.
type ChunkRef struct {
	Kind   ChunkRefKind
	Parent string
	Index  int
	Total  int
}

type chunkParser func(VectorEntry) (ChunkRef, bool)

// chunkParsers is the resolution order: suffix encoding first, then title
// encoding, then the explicit parent-reference field. First match wins.
var chunkParsers = []chunkParser{
	parseSuffixRef,
	parseTitleRef,
	parseExplicitRef,
}

// ResolveChunkRef applies the ordered parser list to a vector entry and
// returns the first match, or a ChunkNone reference when no parser applies.
func ResolveChunkRef(entry VectorEntry) ChunkRef {
	for _, parse := range chunkParsers {
		if ref, ok := parse(entry); ok {
			return ref
		}
	}
	return ChunkRef{Kind: ChunkNone}
}

// key#chunk_3 or key#chunk_3_of_7
var suffixRefPattern = regexp.MustCompile(`^(.+)#chunk_(\d+)(?:_of_(\d+))?$`)

func parseSuffixRef(entry VectorEntry) (ChunkRef, bool) {
	m := suffixRefPattern.FindStringSubmatch(entry.Key)
	if m == nil {
		return ChunkRef{}, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return ChunkRef{}, false
	}
	total := 0
	if m[3] != "" {
		if total, err = strconv.Atoi(m[3]); err != nil {
			return ChunkRef{}, false
		}
	}
	return ChunkRef{Kind: ChunkBySuffix, Parent: m[1], Index: index, Total: total}, true
}

// "Quarterly Report (Part 2/5)"
var titleRefPattern = regexp.MustCompile(`^(.+?) \(Part (\d+)/(\d+)\)$`)

func parseTitleRef(entry VectorEntry) (ChunkRef, bool) {
	m := titleRefPattern.FindStringSubmatch(entry.Title)
	if m == nil {
		return ChunkRef{}, false
	}
	index, err := strconv.Atoi(m[2])
	if err != nil {
		return ChunkRef{}, false
	}
	total, err := strconv.Atoi(m[3])
	if err != nil {
		return ChunkRef{}, false
	}
	return ChunkRef{Kind: ChunkByTitle, Parent: m[1], Index: index, Total: total}, true
}

func parseExplicitRef(entry VectorEntry) (ChunkRef, bool) {
	if entry.ParentKey == "" {
		return ChunkRef{}, false
	}
	return ChunkRef{
		Kind:   ChunkByExplicitField,
		Parent: entry.ParentKey,
		Index:  entry.ChunkIndex,
		Total:  entry.TotalChunks,
	}, true
}
