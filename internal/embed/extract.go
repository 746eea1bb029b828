package embed

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PlainText is the default extractor. Real document parsing (PDF, Office
// formats) is an external collaborator; this passthrough handles the text
// types the platform embeds directly and rejects everything else so a
// reembed against an unparseable format fails loudly instead of indexing
// garbage.
type PlainText struct{}

func NewPlainText() *PlainText {
	return &PlainText{}
}

func (PlainText) Extract(_ context.Context, data []byte, contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "text/"), ct == "application/json", ct == "application/xml":
	default:
		return "", fmt.Errorf("no extractor for content type %q", contentType)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content of type %q is not valid UTF-8", contentType)
	}
	return string(data), nil
}
