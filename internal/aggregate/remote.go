// Package aggregate builds the summary views served over HTTP and pushed
// to spreadsheets, from the remote repository and from the store.
package aggregate

import (
	"bytes"
	"context"
	"log"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/config"
	"github.com/TobiSchelling/annotrack/internal/report"
)

// Files read from each annotator folder.
const (
	AssignedDataFile   = "assigned_data.tsv"
	RecordingStatsFile = "recording_stats.csv"
)

const fetchConcurrency = 4

// Source reads the remote repository.
type Source interface {
	ListSubdirs(ctx context.Context, dir string) ([]string, error)
	LatestSubdir(ctx context.Context, dir string) (string, error)
	Raw(ctx context.Context, p string) ([]byte, error)
}

// Remote computes views straight from the remote repository. Nothing is
// cached: each call re-fetches. A folder that cannot be read or parsed is
// logged and left out of multi-folder views.
type Remote struct {
	src Source
	cfg config.GitHub
}

// NewRemote creates a Remote.
func NewRemote(src Source, cfg config.GitHub) *Remote {
	return &Remote{src: src, cfg: cfg}
}

func (r *Remote) languages(ctx context.Context) ([]string, error) {
	langs, err := r.src.ListSubdirs(ctx, r.cfg.ReportsDir)
	if err != nil {
		return nil, err
	}
	return langs, nil
}

// eachLanguage runs fn for every language folder with bounded concurrency
// and returns the non-nil results in language order.
func eachLanguage[T any](ctx context.Context, langs []string, fn func(ctx context.Context, lang string) (*T, error)) []T {
	results := make([]*T, len(langs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, lang := range langs {
		g.Go(func() error {
			v, err := fn(gctx, lang)
			if err != nil {
				log.Printf("skipping %s: %v", lang, err)
				return nil
			}
			results[i] = v
			return nil
		})
	}
	g.Wait()

	out := make([]T, 0, len(langs))
	for _, v := range results {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// TodayStats reads <lang>/<day>/report.txt for every language, where day
// is YYYYMMDD. Languages without a report for day are skipped.
func (r *Remote) TodayStats(ctx context.Context, day string) ([]report.LanguageSummary, error) {
	langs, err := r.languages(ctx)
	if err != nil {
		return nil, err
	}
	return eachLanguage(ctx, langs, func(ctx context.Context, lang string) (*report.LanguageSummary, error) {
		return r.summary(ctx, lang, day)
	}), nil
}

// LatestSummaries reads the report.txt summary of each language's latest
// date folder.
func (r *Remote) LatestSummaries(ctx context.Context) ([]report.LanguageSummary, error) {
	langs, err := r.languages(ctx)
	if err != nil {
		return nil, err
	}
	return eachLanguage(ctx, langs, func(ctx context.Context, lang string) (*report.LanguageSummary, error) {
		latest, err := r.src.LatestSubdir(ctx, path.Join(r.cfg.ReportsDir, lang))
		if err != nil {
			return nil, err
		}
		return r.summary(ctx, lang, latest)
	}), nil
}

func (r *Remote) summary(ctx context.Context, lang, folder string) (*report.LanguageSummary, error) {
	body, err := r.src.Raw(ctx, path.Join(r.cfg.ReportsDir, lang, folder, report.ReportFile))
	if err != nil {
		return nil, err
	}
	s, err := report.ParseLanguageSummary(string(body), lang)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LanguageStats returns the stats.csv rows of language's latest date
// folder with a language column added. It is a not-found error when the
// language has no date folders or the file is missing.
func (r *Remote) LanguageStats(ctx context.Context, language string) (*report.Table, error) {
	if err := validName(language); err != nil {
		return nil, err
	}
	dir := path.Join(r.cfg.ReportsDir, language)
	latest, err := r.src.LatestSubdir(ctx, dir)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("no date folders found for language '" + language + "'")
		}
		return nil, err
	}
	body, err := r.src.Raw(ctx, path.Join(dir, latest, report.StatsFile))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("no " + report.StatsFile + " for language '" + language + "' on " + latest)
		}
		return nil, err
	}
	t, err := report.ReadTable(bytes.NewReader(body), ',')
	if err != nil {
		return nil, err
	}
	return t.WithColumn("language", language), nil
}

// AllLanguageStats returns LanguageStats for every language folder,
// skipping languages that fail.
func (r *Remote) AllLanguageStats(ctx context.Context) (map[string]*report.Table, []string, error) {
	langs, err := r.languages(ctx)
	if err != nil {
		return nil, nil, err
	}
	type named struct {
		lang  string
		table *report.Table
	}
	tables := eachLanguage(ctx, langs, func(ctx context.Context, lang string) (*named, error) {
		t, err := r.LanguageStats(ctx, lang)
		if err != nil {
			return nil, err
		}
		return &named{lang: lang, table: t}, nil
	})
	out := make(map[string]*report.Table, len(tables))
	order := make([]string, 0, len(tables))
	for _, n := range tables {
		out[n.lang] = n.table
		order = append(order, n.lang)
	}
	return out, order, nil
}

// AssignmentCount is one annotator's assignment totals. Error is set when
// the annotator's file could not be read; the counts are then zero.
type AssignmentCount struct {
	Annotator string `json:"annotator"`
	report.AssignmentSummary
	Error string `json:"error,omitempty"`
}

// AssignmentCounts summarizes assigned_data.tsv for every annotator folder.
// Unlike the other multi-folder views, a failing annotator stays in the
// result with its error recorded.
func (r *Remote) AssignmentCounts(ctx context.Context) ([]AssignmentCount, error) {
	names, err := r.src.ListSubdirs(ctx, r.cfg.AnnotatorsDir)
	if err != nil {
		return nil, err
	}
	counts := make([]AssignmentCount, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, name := range names {
		g.Go(func() error {
			counts[i] = AssignmentCount{Annotator: name}
			t, err := r.annotatorTable(gctx, name, AssignedDataFile)
			if err != nil {
				log.Printf("failed to parse %s: %v", name, err)
				counts[i].Error = err.Error()
				return nil
			}
			counts[i].AssignmentSummary = report.SummarizeAssignments(t)
			return nil
		})
	}
	g.Wait()
	return counts, nil
}

// AnnotatorTables holds every annotator's assigned_data and
// recording_stats rows, each with an annotator column.
type AnnotatorTables struct {
	Assigned  *report.Table
	Recording *report.Table
}

// Records returns assigned rows followed by recording rows.
func (a *AnnotatorTables) Records() []map[string]any {
	var out []map[string]any
	if a.Assigned != nil {
		out = append(out, a.Assigned.Records()...)
	}
	if a.Recording != nil {
		out = append(out, a.Recording.Records()...)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out
}

// AnnotatorTables concatenates the per-annotator files. Missing files are
// skipped; it is a not-found error when no annotator has either file.
func (r *Remote) AnnotatorTables(ctx context.Context) (*AnnotatorTables, error) {
	names, err := r.src.ListSubdirs(ctx, r.cfg.AnnotatorsDir)
	if err != nil {
		return nil, err
	}
	assigned := make([]*report.Table, len(names))
	recording := make([]*report.Table, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, name := range names {
		g.Go(func() error {
			if t, err := r.annotatorTable(gctx, name, AssignedDataFile); err == nil {
				assigned[i] = t.WithColumn("annotator", name)
			} else {
				log.Printf("skipping %s/%s: %v", name, AssignedDataFile, err)
			}
			if t, err := r.annotatorTable(gctx, name, RecordingStatsFile); err == nil {
				recording[i] = t.WithColumn("annotator", name)
			} else {
				log.Printf("skipping %s/%s: %v", name, RecordingStatsFile, err)
			}
			return nil
		})
	}
	g.Wait()

	out := &AnnotatorTables{}
	if ts := compact(assigned); len(ts) > 0 {
		out.Assigned = report.Concat(ts...)
	}
	if ts := compact(recording); len(ts) > 0 {
		out.Recording = report.Concat(ts...)
	}
	if out.Assigned == nil && out.Recording == nil {
		return nil, apperr.NotFound("no annotator data found")
	}
	return out, nil
}

func (r *Remote) annotatorTable(ctx context.Context, name, file string) (*report.Table, error) {
	body, err := r.src.Raw(ctx, path.Join(r.cfg.AnnotatorsDir, name, file))
	if err != nil {
		return nil, err
	}
	return report.ReadTable(bytes.NewReader(body), report.DelimiterFor(file))
}

// CSV fetches a delimited file by repository path.
func (r *Remote) CSV(ctx context.Context, p string) (*report.Table, error) {
	body, err := r.src.Raw(ctx, p)
	if err != nil {
		return nil, err
	}
	return report.ReadTable(bytes.NewReader(body), report.DelimiterFor(p))
}

// Hourly fetches the hourly workbook and reshapes it to long form.
func (r *Remote) Hourly(ctx context.Context) ([]report.HourlyRow, error) {
	body, err := r.src.Raw(ctx, r.cfg.HourlyReportPath)
	if err != nil {
		return nil, err
	}
	return report.ParseHourlyWorkbook(body)
}

// AudioSummary fetches the per-language audio summary workbook.
func (r *Remote) AudioSummary(ctx context.Context) ([]report.Sheet, error) {
	body, err := r.src.Raw(ctx, r.cfg.AudioSummaryPath)
	if err != nil {
		return nil, err
	}
	return report.ParseWorkbook(body)
}

func compact(ts []*report.Table) []*report.Table {
	var out []*report.Table
	for _, t := range ts {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return apperr.Invalid("invalid language "+name, nil)
	}
	return nil
}
