package report

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

// Sheet names of the hourly workbook.
const (
	ReadSheet   = "read"
	UnreadSheet = "unread"
)

// HourlyRow is one (annotator, timestamp) observation in long format.
type HourlyRow struct {
	Annotator string `json:"annotator"`
	Timestamp string `json:"timestamp"`
	Read      int    `json:"read_count"`
	Unread    int    `json:"unread_count"`
}

// WideSheet is a sheet with annotators down the first column and one
// column per hourly timestamp.
type WideSheet struct {
	Annotators []string
	Timestamps []string
	Values     map[string]map[string]int
}

// ParseWideSheet reads rows of a wide sheet. Rows with unparseable counts
// are logged and dropped.
func ParseWideSheet(name string, rows [][]string) (*WideSheet, error) {
	t := rowsToTable(rows)
	if t == nil || len(t.Header) < 2 {
		return nil, apperr.Parse(fmt.Sprintf("sheet %s has no timestamp columns", name), nil)
	}
	ws := &WideSheet{Values: make(map[string]map[string]int)}
	for _, h := range t.Header[1:] {
		ws.Timestamps = append(ws.Timestamps, strings.TrimSpace(h))
	}

rows:
	for _, row := range t.Rows {
		annotator := strings.TrimSpace(row[0])
		if annotator == "" {
			continue
		}
		vals := make(map[string]int, len(ws.Timestamps))
		for i, ts := range ws.Timestamps {
			n, err := ParseInt(row[i+1])
			if err != nil {
				log.Printf("sheet %s: skipping %s: %s: %v", name, annotator, ts, err)
				continue rows
			}
			vals[ts] = n
		}
		if _, dup := ws.Values[annotator]; !dup {
			ws.Annotators = append(ws.Annotators, annotator)
		}
		ws.Values[annotator] = vals
	}
	return ws, nil
}

// Reshape joins the read and unread sheets into long rows. The join is an
// outer join on (annotator, timestamp); a side with no value reads as zero.
// Output follows annotator then timestamp first-seen order, read sheet first.
func Reshape(read, unread *WideSheet) []HourlyRow {
	annotators := unionOrdered(read.Annotators, unread.Annotators)
	timestamps := unionOrdered(read.Timestamps, unread.Timestamps)

	var out []HourlyRow
	for _, a := range annotators {
		for _, ts := range timestamps {
			out = append(out, HourlyRow{
				Annotator: a,
				Timestamp: ts,
				Read:      read.Values[a][ts],
				Unread:    unread.Values[a][ts],
			})
		}
	}
	return out
}

// ParseHourlyWorkbook reads the "read" and "unread" sheets of an hourly
// report workbook and reshapes them.
func ParseHourlyWorkbook(data []byte) ([]HourlyRow, error) {
	f, err := openWorkbook(data)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := make(map[string]*WideSheet, 2)
	for _, name := range []string{ReadSheet, UnreadSheet} {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, apperr.Parse("reading sheet "+name, err)
		}
		ws, err := ParseWideSheet(name, rows)
		if err != nil {
			return nil, err
		}
		sheets[name] = ws
	}
	return Reshape(sheets[ReadSheet], sheets[UnreadSheet]), nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15",
	"2006-01-02_15",
	"2006-01-02 15:00",
	"20060102_15",
	"20060102 15:04",
	"01-02-06 15:04",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LatestTimestamp picks the newest timestamp. When every value parses as a
// date-time the comparison is chronological, otherwise lexicographic.
func LatestTimestamp(ts []string) string {
	if len(ts) == 0 {
		return ""
	}
	parsed := make([]time.Time, len(ts))
	chronological := true
	for i, s := range ts {
		t, ok := parseTimestamp(s)
		if !ok {
			chronological = false
			break
		}
		parsed[i] = t
	}

	best := 0
	for i := 1; i < len(ts); i++ {
		if chronological {
			if parsed[i].After(parsed[best]) {
				best = i
			}
		} else if ts[i] > ts[best] {
			best = i
		}
	}
	return ts[best]
}

// Timestamps returns the distinct timestamps of rows in first-seen order.
func Timestamps(rows []HourlyRow) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		if _, ok := seen[r.Timestamp]; !ok {
			seen[r.Timestamp] = struct{}{}
			out = append(out, r.Timestamp)
		}
	}
	return out
}

func unionOrdered(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	return out
}
