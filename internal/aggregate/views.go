package aggregate

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/annotrack/internal/database"
	"github.com/TobiSchelling/annotrack/internal/report"
)

// HourSummary describes annotator activity at the latest hourly timestamp.
// Active and Inactive partition every annotator seen in the workbook.
type HourSummary struct {
	Timestamp     string   `json:"timestamp"`
	TotalRead     int      `json:"total_read"`
	TotalUnread   int      `json:"total_unread"`
	ActiveCount   int      `json:"active_count"`
	InactiveCount int      `json:"inactive_count"`
	Active        []string `json:"active"`
	Inactive      []string `json:"inactive"`
}

// LatestHour summarizes rows at their latest timestamp. An annotator is
// active when their read count there is above zero.
func LatestHour(rows []report.HourlyRow) HourSummary {
	s := HourSummary{Active: []string{}, Inactive: []string{}}
	s.Timestamp = report.LatestTimestamp(report.Timestamps(rows))

	all := make(map[string]struct{})
	active := make(map[string]struct{})
	for _, r := range rows {
		all[r.Annotator] = struct{}{}
		if r.Timestamp != s.Timestamp {
			continue
		}
		s.TotalRead += r.Read
		s.TotalUnread += r.Unread
		if r.Read > 0 {
			active[r.Annotator] = struct{}{}
		}
	}
	for a := range all {
		if _, ok := active[a]; ok {
			s.Active = append(s.Active, a)
		} else {
			s.Inactive = append(s.Inactive, a)
		}
	}
	sort.Strings(s.Active)
	sort.Strings(s.Inactive)
	s.ActiveCount = len(s.Active)
	s.InactiveCount = len(s.Inactive)
	return s
}

// CompletedAnnotator is an annotator who read every assigned sentence.
type CompletedAnnotator struct {
	ID              string  `json:"ID"`
	Name            string  `json:"Name"`
	Language        string  `json:"language"`
	ReportDate      string  `json:"report_date"`
	MinutesRecorded float64 `json:"Minutes Recorded"`
	AvgMinutes      float64 `json:"avg_time_per_sentence_min"`
	AvgSeconds      float64 `json:"avg_time_per_sentence_sec"`
}

// Completion lists completed annotators and their overall average pace.
// OverallAvgSeconds is nil when nobody has completed.
type Completion struct {
	Completed         []CompletedAnnotator `json:"completed_annotators"`
	OverallAvgSeconds *float64             `json:"overall_avg_time_per_sentence_sec"`
}

// CompletionTimes finds rows with files_read == target and nothing
// remaining, and computes minutes and seconds per sentence for each.
func CompletionTimes(stats []database.AnnotatorStat, target int) Completion {
	c := Completion{Completed: []CompletedAnnotator{}}
	if target <= 0 {
		return c
	}
	var total float64
	for _, s := range stats {
		if s.FilesRead != target || s.RemainingTexts != 0 {
			continue
		}
		avgMin := round(s.MinutesRecorded/float64(target), 4)
		avgSec := round(avgMin*60, 2)
		c.Completed = append(c.Completed, CompletedAnnotator{
			ID:              s.AnnotatorID,
			Name:            s.Name,
			Language:        s.Language,
			ReportDate:      s.ReportDate,
			MinutesRecorded: s.MinutesRecorded,
			AvgMinutes:      avgMin,
			AvgSeconds:      avgSec,
		})
		total += avgSec
	}
	if n := len(c.Completed); n > 0 {
		avg := round(total/float64(n), 2)
		c.OverallAvgSeconds = &avg
	}
	return c
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Digest renders language totals as a Markdown report.
func Digest(totals []database.LanguageTotal, runs []database.SyncRun) string {
	var b strings.Builder
	b.WriteString("## Language totals\n\n")
	if len(totals) == 0 {
		b.WriteString("_No annotator stats stored yet._\n")
	} else {
		b.WriteString("| Language | Latest report | Annotators | Started | Files read | Remaining | Minutes |\n")
		b.WriteString("|---|---|---:|---:|---:|---:|---:|\n")
		for _, t := range totals {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d | %.2f |\n",
				t.Language, database.FormatDateDisplay(t.LatestReport), t.Annotators, t.Started,
				t.FilesRead, t.RemainingTexts, t.MinutesRecorded)
		}
	}
	if len(runs) > 0 {
		r := runs[0]
		fmt.Fprintf(&b, "\nLast sync **%s** (%s) at %s: %d records, %d inserted, %d updated.\n",
			r.Status, r.Trigger, r.StartedAt, r.RecordCount, r.Inserted, r.Updated)
	}
	return b.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderMarkdown converts Markdown to HTML.
func RenderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
