package importers

// convert.go turns raw CSV cells into the values importers store. Cells
// arrive the way spreadsheets export them, so they are cleaned before use.

import "strings"

// HeaderIndex maps a lowercased, cleaned header label to its column.
type HeaderIndex map[string]int

// MakeHeaderIndex indexes header for case-insensitive lookups. The first
// occurrence of a repeated label wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, seen := idx[key]; !seen {
			idx[key] = i
		}
	}
	return idx
}

// Get returns the cleaned cell for label, or "" when the column is absent
// or the row is short.
func (h HeaderIndex) Get(row []string, label string) string {
	i, ok := h[strings.ToLower(label)]
	if !ok || i >= len(row) {
		return ""
	}
	return CleanCell(row[i])
}

// CleanCell removes common CSV artifacts from a cell value:
//   - surrounding whitespace
//   - an Excel formula prefix (="...")
//   - surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// rowObject pairs each header label with the row's cell. Missing trailing
// cells become "".
func rowObject(header, row []string) map[string]string {
	obj := make(map[string]string, len(header))
	for i, h := range header {
		v := ""
		if i < len(row) {
			v = row[i]
		}
		obj[h] = v
	}
	return obj
}
