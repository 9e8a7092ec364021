package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

// Column headers of stats.csv, compared case-insensitively.
const (
	colID              = "id"
	colName            = "name"
	colFilesRead       = "files read"
	colRemainingTexts  = "remaining texts"
	colMinutesRecorded = "minutes recorded"
)

// ParseStatsCSV reads a stats.csv file. Rows without an ID or with
// unparseable numbers are skipped and logged. A file without an ID column is
// a parse error.
func ParseStatsCSV(r io.Reader) ([]StatsRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Parse("reading stats header", err)
	}
	cols := indexColumns(header)
	if _, ok := cols[colID]; !ok {
		return nil, apperr.Parse(fmt.Sprintf("stats header %v has no ID column", header), nil)
	}

	var rows []StatsRow
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, apperr.Parse(fmt.Sprintf("reading stats line %d", line), err)
		}

		cell := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		row := StatsRow{ID: cell(colID), Name: cell(colName)}
		if row.ID == "" {
			continue
		}
		var perr error
		if row.FilesRead, perr = ParseInt(cell(colFilesRead)); perr != nil {
			log.Printf("stats line %d: skipping %s: files read: %v", line, row.ID, perr)
			continue
		}
		if row.RemainingTexts, perr = ParseInt(cell(colRemainingTexts)); perr != nil {
			log.Printf("stats line %d: skipping %s: remaining texts: %v", line, row.ID, perr)
			continue
		}
		if row.MinutesRecorded, perr = ParseFloat(cell(colMinutesRecorded)); perr != nil {
			log.Printf("stats line %d: skipping %s: minutes recorded: %v", line, row.ID, perr)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols
}

// ParseInt reads an integer cell. Thousands separators are dropped, a
// "label: value" prefix is stripped, and an empty cell is zero. Whole
// floats such as "42.0" are accepted.
func ParseInt(s string) (int, error) {
	s = cleanNumber(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return int(f), nil
}

// ParseFloat reads a decimal cell with the same cleaning as ParseInt.
func ParseFloat(s string) (float64, error) {
	s = cleanNumber(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

func cleanNumber(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") {
		return ""
	}
	return s
}
