package fileparse

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCols []string
		wantRows int
		wantErr  error
	}{
		{
			name:     "basic file",
			input:    "name,email\nAda,ada@x.com\nBob,bob@x.com\n",
			wantCols: []string{"name", "email"},
			wantRows: 2,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: ErrEmptyFile,
		},
		{
			name:    "only blank lines",
			input:   "\n  , \n",
			wantErr: ErrEmptyFile,
		},
		{
			name:    "header without data",
			input:   "name,email\n",
			wantErr: ErrNoDataRows,
		},
		{
			name:     "blank lines before header and between rows",
			input:    "\nname,email\n\nAda,ada@x.com\n\n",
			wantCols: []string{"name", "email"},
			wantRows: 1,
		},
		{
			name:     "short row padded to header width",
			input:    "name,email,phone\nAda,ada@x.com\n",
			wantCols: []string{"name", "email", "phone"},
			wantRows: 1,
		},
		{
			name:     "long row truncated to header width",
			input:    "name,email\nAda,ada@x.com,extra\n",
			wantCols: []string{"name", "email"},
			wantRows: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Parse([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			if len(src.Columns) != len(tt.wantCols) {
				t.Fatalf("columns = %v, want %v", src.Columns, tt.wantCols)
			}
			for i := range tt.wantCols {
				if src.Columns[i] != tt.wantCols[i] {
					t.Errorf("column[%d] = %q, want %q", i, src.Columns[i], tt.wantCols[i])
				}
			}
			if src.TotalRows != tt.wantRows {
				t.Errorf("TotalRows = %d, want %d", src.TotalRows, tt.wantRows)
			}
			for i, row := range src.Rows {
				if len(row) != len(src.Columns) {
					t.Errorf("row %d width = %d, want %d", i, len(row), len(src.Columns))
				}
			}
		})
	}
}

func TestParseInvalidUTF8(t *testing.T) {
	src, err := Parse([]byte("name\ncaf\xe9\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !strings.Contains(src.Rows[0][0], "�") {
		t.Errorf("invalid byte not replaced: %q", src.Rows[0][0])
	}
}

func TestParseRejectsOversizedFile(t *testing.T) {
	old := MaxFileSize
	MaxFileSize = 16
	defer func() { MaxFileSize = old }()

	_, err := Parse([]byte("name,email\nAda,ada@x.com\n"))
	if err == nil {
		t.Error("Parse accepted file over size limit")
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  plain  ", "plain"},
		{`="12345"`, "12345"},
		{"=SUM", "SUM"},
		{`"quoted"`, "quoted"},
		{"'single'", "single"},
		{"\uFEFFname", "name"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.in); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
