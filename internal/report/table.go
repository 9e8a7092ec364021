package report

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

// Table is a header plus string rows, padded to the header width.
type Table struct {
	Header []string
	Rows   [][]string
}

// DelimiterFor picks the delimiter from a file name: tab for .tsv, comma otherwise.
func DelimiterFor(name string) rune {
	if strings.HasSuffix(strings.ToLower(name), ".tsv") {
		return '\t'
	}
	return ','
}

// ReadTable parses delimited text. Blank lines are dropped and short rows
// are padded with empty cells.
func ReadTable(r io.Reader, comma rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	t := &Table{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Parse("reading table", err)
		}
		if t.Header == nil {
			for i := range rec {
				rec[i] = strings.TrimSpace(strings.TrimPrefix(rec[i], "\ufeff"))
			}
			t.Header = rec
			continue
		}
		if isBlank(rec) {
			continue
		}
		t.Rows = append(t.Rows, pad(rec, len(t.Header)))
	}
	return t, nil
}

// Column returns the index of name, or -1.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

// WithColumn returns a copy of t with name=value prepended to every row.
func (t *Table) WithColumn(name, value string) *Table {
	out := &Table{Header: append([]string{name}, t.Header...)}
	for _, row := range t.Rows {
		out.Rows = append(out.Rows, append([]string{value}, row...))
	}
	return out
}

// Records converts rows to maps keyed by header. Numeric cells become
// numbers; empty cells stay empty strings.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]any, len(t.Header))
		for i, h := range t.Header {
			m[h] = CellValue(row[i])
		}
		out = append(out, m)
	}
	return out
}

// Values returns rows as []any for spreadsheet writes.
func (t *Table) Values() [][]any {
	out := make([][]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		vals := make([]any, len(row))
		for i, c := range row {
			vals[i] = c
		}
		out = append(out, vals)
	}
	return out
}

// Concat stacks tables, unioning headers in first-seen order.
func Concat(tables ...*Table) *Table {
	out := &Table{}
	pos := map[string]int{}
	for _, t := range tables {
		for _, h := range t.Header {
			if _, ok := pos[h]; !ok {
				pos[h] = len(out.Header)
				out.Header = append(out.Header, h)
			}
		}
	}
	for _, t := range tables {
		for _, row := range t.Rows {
			merged := make([]string, len(out.Header))
			for i, h := range t.Header {
				merged[pos[h]] = row[i]
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// CellValue converts a cell to int64, float64, or the trimmed string.
func CellValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func pad(rec []string, n int) []string {
	if len(rec) >= n {
		return rec[:n]
	}
	out := make([]string, n)
	copy(out, rec)
	return out
}
