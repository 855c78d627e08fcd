package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxFileSize caps an upload when the caller sets no limit (50MB).
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// ContextCheckInterval is how many rows are read between cancellation checks.
var ContextCheckInterval = 500

// ParseCSV reads an upload into a header and data rows.
//
// The first record is the header. Every data row must be no wider than
// the header; the first row that is wider fails the whole upload. Rows
// are numbered as CSV records with the header as row 1. Blank rows count
// toward numbering but are dropped.
func ParseCSV(ctx context.Context, r io.Reader, maxSize int64) ([]string, [][]string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, nil, &ValidationError{Message: fmt.Sprintf("could not read upload: %v", err)}
	}
	if int64(len(raw)) > maxSize {
		return nil, nil, &ValidationError{Message: fmt.Sprintf("file exceeds %dMB limit", maxSize/(1024*1024))}
	}
	data, err := decodeText(raw)
	if err != nil {
		return nil, nil, &ValidationError{Message: fmt.Sprintf("could not decode upload: %v", err)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, &ValidationError{Message: "empty file"}
	}
	if !isText(data) {
		return nil, nil, &ValidationError{Message: "file is not a CSV text file"}
	}

	text := sanitizeUTF8(data)
	reader := csv.NewReader(bytes.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, &ValidationError{Message: fmt.Sprintf("could not read header: %v", err)}
	}
	header = trimHeader(header)

	// Row numbers count records plus the empty lines the reader skips, so
	// they match what a spreadsheet shows.
	var rows [][]string
	rowNum, read := 1, 0
	offset := reader.InputOffset()
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		next := reader.InputOffset()
		rowNum += leadingBlankLines(text[offset:next]) + 1
		offset = next
		if err != nil {
			return nil, nil, &ValidationError{Message: fmt.Sprintf("row %d: %v", rowNum, err)}
		}
		read++
		if read%ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		if err := checkRowWidth(rowNum, row, header); err != nil {
			return nil, nil, err
		}
		if isEmptyRow(row) {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, nil, &ValidationError{Message: "file has a header but no data rows"}
	}
	return header, rows, nil
}

// decodeText converts an upload to UTF-8. A byte order mark selects
// UTF-8 or UTF-16; other input that is not valid UTF-8 is read as
// Windows-1252, which is what spreadsheet exports on Windows produce.
func decodeText(raw []byte) ([]byte, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	if !utf8.Valid(raw) && !hasUTF16BOM(raw) {
		dec = charmap.Windows1252.NewDecoder()
	}
	out, _, err := transform.Bytes(dec, raw)
	return out, err
}

func hasUTF16BOM(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) || bytes.HasPrefix(raw, []byte{0xFF, 0xFE})
}

// isText reports whether data sniffs as a text type. CSV is detected as
// text/csv, a child of text/plain.
func isText(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// trimHeader strips surrounding space from labels and a UTF-8 BOM left
// on the first one by editors that write it twice.
func trimHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	return out
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the replacement rune.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// leadingBlankLines counts the empty lines at the start of b.
func leadingBlankLines(b []byte) int {
	n := 0
	for len(b) > 0 {
		switch {
		case b[0] == '\n':
			b = b[1:]
		case len(b) > 1 && b[0] == '\r' && b[1] == '\n':
			b = b[2:]
		default:
			return n
		}
		n++
	}
	return n
}
