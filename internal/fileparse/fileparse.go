// Package fileparse turns an uploaded tabular file into columns and rows for
// the migration pipeline. It handles the messy reality of user exports:
// invalid UTF-8, Excel formula artifacts, stray quoting, ragged and empty
// rows. The first non-empty row is treated as the header.
package fileparse

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFileSize is the default maximum accepted file size (50MB).
var MaxFileSize int64 = 50 * 1024 * 1024

// ErrEmptyFile is returned when the file has no header row.
var ErrEmptyFile = errors.New("empty file")

// ErrNoDataRows is returned when the file has a header but no data.
var ErrNoDataRows = errors.New("no data rows after header")

// Source is the parsed content of an uploaded file.
type Source struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	TotalRows int        `json:"total_rows"`
}

// Parse reads CSV data into a Source. Empty rows are dropped; every kept row
// is padded or truncated to the header width so downstream code can index by
// column position without bounds checks.
func Parse(data []byte) (*Source, error) {
	if int64(len(data)) > MaxFileSize {
		return nil, fmt.Errorf("file exceeds %dMB limit", MaxFileSize/(1024*1024))
	}

	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}

	// Skip leading empty rows before the header.
	start := 0
	for start < len(records) && isEmptyRow(records[start]) {
		start++
	}
	if start >= len(records) {
		return nil, ErrEmptyFile
	}

	header := records[start]
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = CleanCell(h)
	}

	var rows [][]string
	for _, rec := range records[start+1:] {
		if isEmptyRow(rec) {
			continue
		}
		row := make([]string, len(columns))
		for i := range columns {
			if i < len(rec) {
				row[i] = CleanCell(rec[i])
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrNoDataRows
	}

	return &Source{Columns: columns, Rows: rows, TotalRows: len(rows)}, nil
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, Excel formula prefixes (="..."), stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	s = strings.TrimPrefix(s, "\uFEFF")

	return strings.TrimSpace(s)
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD so the CSV reader
// and JSON encoding never see broken encodings.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
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
