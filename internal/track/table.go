package track

import (
	"fmt"
	"strings"
)

// Table is a raw track export: named columns of string cells.
type Table struct {
	Columns   []string
	Rows      [][]string
	Skipped   int  // preamble lines before the header
	Delimiter rune // zero for non-delimited sources
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns row r, column c, or "" when the row is short.
func (t *Table) Cell(r, c int) string {
	row := t.Rows[r]
	if c < 0 || c >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[c])
}

// dropEmptyColumns removes columns that are blank in every row.
func (t *Table) dropEmptyColumns() {
	keep := make([]int, 0, len(t.Columns))
	for c := range t.Columns {
		for r := range t.Rows {
			if t.Cell(r, c) != "" {
				keep = append(keep, c)
				break
			}
		}
	}
	if len(keep) == len(t.Columns) {
		return
	}
	t.project(keep)
}

func (t *Table) project(keep []int) {
	cols := make([]string, len(keep))
	for i, c := range keep {
		cols[i] = t.Columns[c]
	}
	for r, row := range t.Rows {
		out := make([]string, len(keep))
		for i, c := range keep {
			if c < len(row) {
				out[i] = row[c]
			}
		}
		t.Rows[r] = out
	}
	t.Columns = cols
}

// ParseError reports a track file that could not be read into a table.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return "track: " + e.Reason
	}
	return fmt.Sprintf("track %s: %s", e.Path, e.Reason)
}
