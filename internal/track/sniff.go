package track

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

var delimiters = []rune{',', ';', '\t', '|'}

// Sniffer locates the header row of a delimited export that may start with an
// arbitrary preamble. It tries skip counts 0..MaxSkipRows-1 and accepts the first
// whose header carries at least MinColumns unique names and whose first
// SampleRows data rows are neither short nor entirely empty.
type Sniffer struct {
	MaxSkipRows int
	SampleRows  int
	MinColumns  int
}

// Sniff reads r into a Table.
func (s Sniffer) Sniff(r io.Reader) (*Table, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	limit := s.MaxSkipRows
	if limit > len(lines) {
		limit = len(lines)
	}
	for skip := 0; skip < limit; skip++ {
		if strings.TrimSpace(lines[skip]) == "" {
			continue
		}
		delim := pickDelimiter(lines[skip])
		header, err := splitRecord(lines[skip], delim)
		if err != nil || !s.plausibleHeader(header) {
			continue
		}
		if !s.plausibleSample(lines[skip+1:], delim) {
			continue
		}
		return buildTable(lines[skip:], skip, delim)
	}
	return nil, &ParseError{Reason: fmt.Sprintf("no header found in the first %d lines", limit)}
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// a UTF-8 byte order mark would otherwise stick to the first column name
	if len(lines) > 0 {
		lines[0] = strings.TrimPrefix(lines[0], "\ufeff")
	}
	return lines, nil
}

func pickDelimiter(line string) rune {
	best, bestCount := ',', 0
	for _, d := range delimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func splitRecord(line string, delim rune) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rec, err := cr.Read()
	if err != nil {
		return nil, err
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	return rec, nil
}

func usableName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "Unnamed")
}

func (s Sniffer) plausibleHeader(header []string) bool {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		if !usableName(h) {
			continue
		}
		if _, dup := seen[h]; dup {
			return false
		}
		seen[h] = struct{}{}
	}
	return len(seen) >= s.MinColumns
}

func (s Sniffer) plausibleSample(rest []string, delim rune) bool {
	checked := 0
	for _, line := range rest {
		if checked >= s.SampleRows {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := splitRecord(line, delim)
		if err != nil || len(rec) < s.MinColumns {
			return false
		}
		empty := true
		for _, v := range rec {
			if v != "" {
				empty = false
				break
			}
		}
		if empty {
			return false
		}
		checked++
	}
	return checked > 0
}

func buildTable(lines []string, skip int, delim rune) (*Table, error) {
	header, err := splitRecord(lines[0], delim)
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	t := &Table{Columns: header, Skipped: skip, Delimiter: delim}
	for n, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := splitRecord(line, delim)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("line %d: %v", skip+n+2, err)}
		}
		row := make([]string, len(header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}

	keep := make([]int, 0, len(header))
	for i, h := range header {
		if usableName(h) {
			keep = append(keep, i)
		}
	}
	t.project(keep)
	t.dropEmptyColumns()
	return t, nil
}
