package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultPreviewRows is used when a preview is requested with no limit.
const DefaultPreviewRows = 25

// HeaderMismatch is one expected column label that the upload does not match.
type HeaderMismatch struct {
	Column   int    `json:"column"`
	Expected string `json:"expected"`
	Found    string `json:"found"`
}

func (m HeaderMismatch) String() string {
	return fmt.Sprintf("Expected header label %q, but found %q.", m.Expected, m.Found)
}

// Preview is what the operator reviews before starting or cancelling.
type Preview struct {
	RecordID   uuid.UUID        `json:"recordId"`
	Title      string           `json:"title"`
	Importer   string           `json:"importer"`
	Header     []string         `json:"header"`
	Rows       [][]string       `json:"rows"`
	TotalRows  int              `json:"totalRows"`
	Mismatches []HeaderMismatch `json:"mismatches,omitempty"`
	Notes      []string         `json:"notes,omitempty"`
}

// Truncated reports whether Rows holds fewer rows than the upload.
func (p *Preview) Truncated() bool {
	return len(p.Rows) < p.TotalRows
}

// DefaultPreview shows the first rows and compares the upload header with
// the importer's expected headers.
func DefaultPreview(_ context.Context, rec *Record, imp *Importer, limit int) (*Preview, error) {
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	rows := rec.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return &Preview{
		RecordID:   rec.ID,
		Title:      rec.Title,
		Importer:   imp.Slug,
		Header:     rec.Header,
		Rows:       rows,
		TotalRows:  len(rec.Rows),
		Mismatches: DiffHeaders(imp.Headers, rec.Header),
	}, nil
}

// DiffHeaders compares expected labels position by position. Extra columns
// in found are ignored; missing ones are reported with an empty Found.
func DiffHeaders(expected, found []string) []HeaderMismatch {
	var out []HeaderMismatch
	for i, want := range expected {
		got := ""
		if i < len(found) {
			got = strings.TrimSpace(found[i])
		}
		if got != strings.TrimSpace(want) {
			out = append(out, HeaderMismatch{Column: i, Expected: want, Found: got})
		}
	}
	return out
}
