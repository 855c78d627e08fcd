package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantHeader []string
		wantRows   [][]string
		wantErr    string
	}{
		{
			name:       "short rows are accepted",
			input:      "a,b,c\n1,2,3\n4,5\n",
			wantHeader: []string{"a", "b", "c"},
			wantRows:   [][]string{{"1", "2", "3"}, {"4", "5"}},
		},
		{
			name:    "wide row names its record number",
			input:   "a,b,c\n1,2,3\n1,2,3,4\n",
			wantErr: "Row 3 has 4 columns, expecting 3 or fewer columns",
		},
		{
			name:    "blank rows still count toward numbering",
			input:   "a,b\n1,2\n,\n3,4,5\n",
			wantErr: "Row 4 has 3 columns, expecting 2 or fewer columns",
		},
		{
			name:    "empty lines count toward numbering",
			input:   "a,b\n1,2\n\n3,4,5\n",
			wantErr: "Row 4 has 3 columns, expecting 2 or fewer columns",
		},
		{
			name:    "empty CRLF lines count toward numbering",
			input:   "a,b\r\n1,2\r\n\r\n\r\n3,4,5\r\n",
			wantErr: "Row 5 has 3 columns, expecting 2 or fewer columns",
		},
		{
			name:    "quoted newlines stay inside one row",
			input:   "a,b\n\"x\ny\",1\n1,2,3\n",
			wantErr: "Row 3 has 3 columns, expecting 2 or fewer columns",
		},
		{
			name:       "blank rows are dropped",
			input:      "a,b\n1,2\n , \n3,4\n",
			wantHeader: []string{"a", "b"},
			wantRows:   [][]string{{"1", "2"}, {"3", "4"}},
		},
		{
			name:       "byte order mark is stripped",
			input:      "\xEF\xBB\xBFname,email\nAnn,ann@example.com\n",
			wantHeader: []string{"name", "email"},
			wantRows:   [][]string{{"Ann", "ann@example.com"}},
		},
		{
			name:       "header labels are trimmed",
			input:      " name , email\r\nAnn,ann@example.com\r\n",
			wantHeader: []string{"name", "email"},
			wantRows:   [][]string{{"Ann", "ann@example.com"}},
		},
		{
			name:       "quoted fields keep commas and newlines",
			input:      "name,notes\n\"Smith, Ann\",\"line one\nline two\"\n",
			wantHeader: []string{"name", "notes"},
			wantRows:   [][]string{{"Smith, Ann", "line one\nline two"}},
		},
		{
			name:       "windows-1252 export",
			input:      "name,city\nZo\xeb,Caf\xe9\n",
			wantHeader: []string{"name", "city"},
			wantRows:   [][]string{{"Zoë", "Café"}},
		},
		{
			name:       "utf-16 with byte order mark",
			input:      "\xFF\xFEa\x00,\x00b\x00\n\x001\x00,\x002\x00\n\x00",
			wantHeader: []string{"a", "b"},
			wantRows:   [][]string{{"1", "2"}},
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: "empty file",
		},
		{
			name:    "whitespace only",
			input:   " \n\n",
			wantErr: "empty file",
		},
		{
			name:    "header only",
			input:   "a,b,c\n",
			wantErr: "file has a header but no data rows",
		},
		{
			name:    "header and blank rows only",
			input:   "a,b,c\n,,\n",
			wantErr: "file has a header but no data rows",
		},
		{
			name:    "binary content",
			input:   "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01",
			wantErr: "not a CSV text file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, rows, err := ParseCSV(context.Background(), strings.NewReader(tt.input), 0)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrValidation)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, rows)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeader, header)
			assert.Equal(t, tt.wantRows, rows)
		})
	}
}

func TestParseCSV_RowWidthError(t *testing.T) {
	_, _, err := ParseCSV(context.Background(), strings.NewReader("a,b\n1,2,3\n"), 0)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 2, ve.Row)
	assert.Equal(t, 3, ve.Columns)
	assert.Equal(t, 2, ve.Expected)
}

func TestParseCSV_TooLarge(t *testing.T) {
	input := "a,b\n" + strings.Repeat("1,2\n", 100)
	_, _, err := ParseCSV(context.Background(), strings.NewReader(input), 64)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestParseCSV_Cancelled(t *testing.T) {
	old := ContextCheckInterval
	ContextCheckInterval = 2
	defer func() { ContextCheckInterval = old }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := "a,b\n" + strings.Repeat("1,2\n", 10)
	_, _, err := ParseCSV(ctx, strings.NewReader(input), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "ok", string(sanitizeUTF8([]byte("ok"))))
	assert.Equal(t, "a\uFFFDb", string(sanitizeUTF8([]byte("a\xffb"))))
}

func TestCheckRowWidth(t *testing.T) {
	header := []string{"a", "b"}
	assert.NoError(t, checkRowWidth(2, []string{"1"}, header))
	assert.NoError(t, checkRowWidth(2, []string{"1", "2"}, header))
	assert.Error(t, checkRowWidth(2, []string{"1", "2", "3"}, header))
}

func TestLeadingBlankLines(t *testing.T) {
	assert.Equal(t, 0, leadingBlankLines([]byte("1,2\n")))
	assert.Equal(t, 2, leadingBlankLines([]byte("\n\r\n1,2\n")))
	assert.Equal(t, 1, leadingBlankLines([]byte("\n")))
	assert.Equal(t, 0, leadingBlankLines(nil))
}
