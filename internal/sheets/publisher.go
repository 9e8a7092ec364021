package sheets

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/TobiSchelling/annotrack/internal/aggregate"
	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/config"
	"github.com/TobiSchelling/annotrack/internal/report"
)

// Tab names written by the publisher.
const (
	CountSummaryTab   = "annotated_count_summary"
	AssignedDataTab   = "assigned_data"
	RecordingStatsTab = "recording_stats"
	HourlySummaryTab  = "hourly_summary"
	WorkbookTab       = "main"
)

// Published describes one tab written.
type Published struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	Tab           string `json:"tab"`
	Rows          int    `json:"rows"`
}

// Publisher maps views onto the configured spreadsheets. A nil Publisher
// means Sheets is not configured; every method then fails as unavailable.
type Publisher struct {
	w   *Writer
	cfg config.Sheets
}

// NewPublisher creates a Publisher.
func NewPublisher(w *Writer, cfg config.Sheets) *Publisher {
	return &Publisher{w: w, cfg: cfg}
}

func notConfigured(what string) error {
	return apperr.Unavailable("google sheets is not configured for " + what)
}

func (p *Publisher) write(ctx context.Context, id, tab string, t *report.Table) (Published, error) {
	if err := p.w.WriteTable(ctx, id, tab, t.Header, t.Values()); err != nil {
		return Published{}, apperr.Fetch("writing "+tab+" to spreadsheet "+id, err)
	}
	return Published{SpreadsheetID: id, Tab: tab, Rows: len(t.Rows)}, nil
}

// LanguageStats writes each language's table to a tab named after it.
func (p *Publisher) LanguageStats(ctx context.Context, tables map[string]*report.Table, order []string) ([]Published, error) {
	if p == nil || p.cfg.StatsSpreadsheetID == "" {
		return nil, notConfigured("language stats")
	}
	var out []Published
	for _, lang := range order {
		pub, err := p.write(ctx, p.cfg.StatsSpreadsheetID, lang, tables[lang])
		if err != nil {
			return out, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// Counts writes assignment totals to every count summary spreadsheet.
func (p *Publisher) Counts(ctx context.Context, counts []aggregate.AssignmentCount) ([]Published, error) {
	if p == nil || len(p.cfg.CountSummarySpreadsheetIDs) == 0 {
		return nil, notConfigured("count summaries")
	}
	t := &report.Table{Header: []string{"Annotator", "Total Sentences", "Presented", "Recorded", "Invalid"}}
	for _, c := range counts {
		t.Rows = append(t.Rows, []string{
			c.Annotator, strconv.Itoa(c.Total), strconv.Itoa(c.Presented), strconv.Itoa(c.Recorded), strconv.Itoa(c.Invalid),
		})
	}
	var out []Published
	for _, id := range p.cfg.CountSummarySpreadsheetIDs {
		pub, err := p.write(ctx, id, CountSummaryTab, t)
		if err != nil {
			return out, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// AnnotatorTables writes the assigned_data and recording_stats tables,
// whichever are present.
func (p *Publisher) AnnotatorTables(ctx context.Context, tables *aggregate.AnnotatorTables) ([]Published, error) {
	if p == nil || p.cfg.AnnotatorsSpreadsheetID == "" {
		return nil, notConfigured("annotator tables")
	}
	var out []Published
	for _, tt := range []struct {
		tab   string
		table *report.Table
	}{{AssignedDataTab, tables.Assigned}, {RecordingStatsTab, tables.Recording}} {
		if tt.table == nil {
			continue
		}
		pub, err := p.write(ctx, p.cfg.AnnotatorsSpreadsheetID, tt.tab, tt.table)
		if err != nil {
			return out, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// Hourly writes the long-form hourly rows.
func (p *Publisher) Hourly(ctx context.Context, rows []report.HourlyRow) (Published, error) {
	if p == nil || p.cfg.HourlySpreadsheetID == "" {
		return Published{}, notConfigured("hourly summary")
	}
	t := &report.Table{Header: []string{"annotator", "timestamp", "read_count", "unread_count"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{r.Annotator, r.Timestamp, strconv.Itoa(r.Read), strconv.Itoa(r.Unread)})
	}
	return p.write(ctx, p.cfg.HourlySpreadsheetID, HourlySummaryTab, t)
}

// Workbook writes each sheet to the spreadsheet configured for the
// language it is named after. Sheets with no configured spreadsheet or no
// rows are logged and skipped.
func (p *Publisher) Workbook(ctx context.Context, sheets []report.Sheet) ([]Published, error) {
	if p == nil || len(p.cfg.LanguageSpreadsheetIDs) == 0 {
		return nil, notConfigured("language workbooks")
	}
	out := []Published{}
	for _, s := range sheets {
		id := p.cfg.LanguageSpreadsheetIDs[strings.ToLower(strings.TrimSpace(s.Name))]
		if id == "" {
			log.Printf("no spreadsheet configured for language %s, skipping", s.Name)
			continue
		}
		if len(s.Rows) == 0 {
			log.Printf("sheet %s is empty, skipping", s.Name)
			continue
		}
		pub, err := p.write(ctx, id, WorkbookTab, &s.Table)
		if err != nil {
			return out, err
		}
		out = append(out, pub)
	}
	return out, nil
}
