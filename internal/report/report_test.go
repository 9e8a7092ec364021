package report

import (
	"strings"
	"testing"

	"github.com/TobiSchelling/annotrack/internal/apperr"
)

const sampleReport = `Daily report for yoruba

ID: Y001
Name: Ada Obi
Has not started

ID: Y002
Name: Bola Ade
Files read: 12

ID: Y003
Name: Chi Eze
has not started
`

func TestParseReport(t *testing.T) {
	blocks, err := ParseReport(strings.NewReader(sampleReport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].ID != "Y001" || blocks[0].Name != "Ada Obi" || !blocks[0].NotStarted {
		t.Errorf("unexpected first block %+v", blocks[0])
	}
	if blocks[1].NotStarted {
		t.Error("expected Y002 to be started")
	}
	if !blocks[2].NotStarted {
		t.Error("expected lowercase marker to be recognized")
	}
}

func TestParseReportNameDoesNotLeakAcrossBlocks(t *testing.T) {
	blocks, err := ParseReport(strings.NewReader("ID: A\nName: First\nID: B\nhas not started\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks[1].Name != "" {
		t.Errorf("expected empty name for B, got %q", blocks[1].Name)
	}
	if _, ok := blocks[1].Record("yoruba", "2026-03-01"); ok {
		t.Error("a not-started block without a name should not yield a record")
	}
}

func TestNotStartedBlockRecord(t *testing.T) {
	rec, ok := ReportBlock{ID: "Y001", Name: "Ada", NotStarted: true}.Record("yoruba", "2026-03-01")
	if !ok {
		t.Fatal("expected record")
	}
	if rec.HasStarted || rec.FilesRead != 0 || rec.RemainingTexts != 0 || rec.MinutesRecorded != 0 {
		t.Errorf("expected zero-valued not-started record, got %+v", rec)
	}
	if !rec.Has(FieldHasStarted) || !rec.Has(FieldFilesRead) {
		t.Error("expected not-started record to supply its zero fields")
	}

	if _, ok := (ReportBlock{ID: "Y002", Name: "Bola"}).Record("yoruba", "2026-03-01"); ok {
		t.Error("started blocks contribute only a name")
	}
}

func TestParseStatsCSV(t *testing.T) {
	data := "ID,Name,Files Read,Remaining Texts,Minutes Recorded\n" +
		"Y002,Bola Ade,42,\"1,158\",12.5\n" +
		",Nobody,1,1,1\n" +
		"Y004,Bad Row,lots,1,1\n" +
		"Y005,,7.0,593,3\n"
	rows, err := ParseStatsCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].RemainingTexts != 1158 || rows[0].MinutesRecorded != 12.5 {
		t.Errorf("unexpected first row %+v", rows[0])
	}
	if rows[1].FilesRead != 7 || rows[1].Name != "" {
		t.Errorf("unexpected second row %+v", rows[1])
	}
}

func TestParseStatsCSVRequiresID(t *testing.T) {
	_, err := ParseStatsCSV(strings.NewReader("Name,Files Read\nA,1\n"))
	if !apperr.Is(err, apperr.KindParse) {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestParseNumbers(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"12", 12},
		{"1,234", 1234},
		{"Files read: 40", 40},
		{"42.0", 42},
		{"nan", 0},
	}
	for _, tt := range tests {
		got, err := ParseInt(tt.in)
		if err != nil {
			t.Errorf("ParseInt(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseInt(%q): expected %d, got %d", tt.in, tt.want, got)
		}
	}
	if _, err := ParseInt("abc"); err == nil {
		t.Error("expected error for abc")
	}
	if f, err := ParseFloat("Minutes: 3.25"); err != nil || f != 3.25 {
		t.Errorf("expected 3.25, got %v (%v)", f, err)
	}
}

func TestMergeStatsOnlyRowMeansStarted(t *testing.T) {
	recs := Merge(nil, []StatsRow{{ID: "A1", Name: "Ann", FilesRead: 42}}, "yoruba", "2026-03-01")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if !recs[0].HasStarted || recs[0].FilesRead != 42 {
		t.Errorf("expected started with 42 files, got %+v", recs[0])
	}
}

func TestMergeNotStartedOnly(t *testing.T) {
	recs := Merge([]ReportBlock{{ID: "A2", Name: "Bea", NotStarted: true}}, nil, "yoruba", "2026-03-01")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.HasStarted || r.FilesRead != 0 || r.MinutesRecorded != 0 || r.Name != "Bea" {
		t.Errorf("unexpected record %+v", r)
	}
}

func TestMergePrecedence(t *testing.T) {
	tests := []struct {
		name        string
		row         StatsRow
		wantStarted bool
		wantName    string
	}{
		{"activity overrides not started", StatsRow{ID: "A3", Name: "CSV Name", FilesRead: 5}, true, "Report Name"},
		{"minutes alone are activity", StatsRow{ID: "A3", MinutesRecorded: 0.5}, true, "Report Name"},
		{"idle stats row keeps not started", StatsRow{ID: "A3", Name: "CSV Name", RemainingTexts: 600}, false, "Report Name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := []ReportBlock{{ID: "A3", Name: "Report Name", NotStarted: true}}
			recs := Merge(blocks, []StatsRow{tt.row}, "hausa", "2026-03-01")
			if len(recs) != 1 {
				t.Fatalf("expected 1 record, got %d", len(recs))
			}
			r := recs[0]
			if r.HasStarted != tt.wantStarted {
				t.Errorf("expected has_started=%v, got %v", tt.wantStarted, r.HasStarted)
			}
			if r.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, r.Name)
			}
			if r.FilesRead != tt.row.FilesRead || r.RemainingTexts != tt.row.RemainingTexts {
				t.Errorf("expected numeric fields from stats row, got %+v", r)
			}
			if r.Source != SourceMerged {
				t.Errorf("expected merged source, got %s", r.Source)
			}
		})
	}
}

func TestMergeNameFallbacks(t *testing.T) {
	blocks := []ReportBlock{{ID: "A4", Name: "From Report"}}
	rows := []StatsRow{{ID: "A4", FilesRead: 1}, {ID: "A5", FilesRead: 2}}
	recs := Merge(blocks, rows, "igbo", "2026-03-01")
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Name != "From Report" {
		t.Errorf("expected name from started block, got %q", recs[0].Name)
	}
	if recs[1].Name != "Unknown" {
		t.Errorf("expected Unknown, got %q", recs[1].Name)
	}
}

func TestParseFolderDate(t *testing.T) {
	got, err := ParseFolderDate("20250704")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2025-07-04" {
		t.Errorf("expected 2025-07-04, got %q", got)
	}
	for _, bad := range []string{"2025074", "20251304", "latest", "2025-07-04"} {
		if _, err := ParseFolderDate(bad); !apperr.Is(err, apperr.KindParse) {
			t.Errorf("%q: expected parse error, got %v", bad, err)
		}
	}
}

func TestParseLanguageSummaryWithHeader(t *testing.T) {
	text := "Report generated 2026-03-01\nAnnotation Info: Yoruba\nAnnotators: 12\nFiles read: 1,200\nRemaining texts: 6000\nMinutes recorded: 95.5\n"
	s, err := ParseLanguageSummary(text, "fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Language != "yoruba" || s.Annotators != 12 || s.FilesRead != 1200 || s.RemainingTexts != 6000 || s.MinutesRecorded != 95.5 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestParseLanguageSummaryPositional(t *testing.T) {
	text := "hausa totals\n3\n30\n1770\n4.25\n"
	s, err := ParseLanguageSummary(text, "hausa")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Language != "hausa" || s.Annotators != 3 || s.MinutesRecorded != 4.25 {
		t.Errorf("unexpected summary %+v", s)
	}

	if _, err := ParseLanguageSummary("only\ntwo", "hausa"); !apperr.Is(err, apperr.KindParse) {
		t.Errorf("expected parse error for short file, got %v", err)
	}
}

func TestReadTableAndSummarize(t *testing.T) {
	data := "text_id\tpresented\trecorded\tinvalid\n" +
		"t1\tTrue\t1\t0\n" +
		"t2\tTrue\t0\t1\n" +
		"\n" +
		"t3\tFalse\t0\n"
	tbl, err := ReadTable(strings.NewReader(data), DelimiterFor("assigned_data.tsv"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(tbl.Rows))
	}
	if len(tbl.Rows[2]) != 4 {
		t.Errorf("expected short row padded to 4, got %d", len(tbl.Rows[2]))
	}

	s := SummarizeAssignments(tbl)
	want := AssignmentSummary{Total: 3, Presented: 2, Recorded: 1, Invalid: 1}
	if s != want {
		t.Errorf("expected %+v, got %+v", want, s)
	}
}

func TestTableWithColumnAndConcat(t *testing.T) {
	a := &Table{Header: []string{"id", "score"}, Rows: [][]string{{"1", "5"}}}
	b := &Table{Header: []string{"id", "note"}, Rows: [][]string{{"2", "late"}}}

	merged := Concat(a.WithColumn("annotator", "ada"), b.WithColumn("annotator", "bola"))
	if strings.Join(merged.Header, ",") != "annotator,id,score,note" {
		t.Errorf("unexpected header %v", merged.Header)
	}
	if merged.Rows[1][0] != "bola" || merged.Rows[1][2] != "" || merged.Rows[1][3] != "late" {
		t.Errorf("unexpected row %v", merged.Rows[1])
	}

	recs := merged.Records()
	if recs[0]["score"] != int64(5) {
		t.Errorf("expected numeric score, got %#v", recs[0]["score"])
	}
	if recs[1]["score"] != "" {
		t.Errorf("expected empty string for missing cell, got %#v", recs[1]["score"])
	}
}
