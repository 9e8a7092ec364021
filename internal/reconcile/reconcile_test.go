package reconcile

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/database"
	"github.com/TobiSchelling/annotrack/internal/report"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newReconciler(db *database.DB, at time.Time) *Reconciler {
	r := New(db)
	r.now = func() time.Time { return at }
	return r
}

func statsRecord(id string, files int, minutes float64) report.Record {
	return report.StatsRow{ID: id, Name: "Name " + id, FilesRead: files, RemainingTexts: 600 - files, MinutesRecorded: minutes}.
		Record("yoruba", "2026-03-01")
}

func TestReconcileInsertsThenIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	records := []report.Record{statsRecord("A1", 42, 10), statsRecord("A2", 0, 0)}

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	res, err := newReconciler(db, first).ReconcileAll(ctx, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 {
		t.Errorf("expected 2 inserts, got %s", res)
	}

	before, _ := db.ListAnnotatorStats(ctx, database.StatFilter{})

	res, err = newReconciler(db, first.Add(time.Hour)).ReconcileAll(ctx, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Unchanged != 2 || res.Inserted != 0 || res.Updated != 0 {
		t.Errorf("expected 2 unchanged on rerun, got %s", res)
	}

	after, _ := db.ListAnnotatorStats(ctx, database.StatFilter{})
	if len(before) != len(after) {
		t.Fatalf("row count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("row %d changed on rerun: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestReconcileUpdatesOnlySuppliedFields(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := newReconciler(db, created).ReconcileAll(ctx, []report.Record{statsRecord("A1", 42, 10)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A record carrying only the name must leave numbers alone.
	nameOnly := report.Record{
		AnnotatorID: "A1", Language: "yoruba", ReportDate: "2026-03-01",
		Name: "Renamed", Fields: report.FieldName, Source: report.SourceReport,
	}
	res, err := newReconciler(db, created.Add(24*time.Hour)).ReconcileAll(ctx, []report.Record{nameOnly})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("expected 1 update, got %s", res)
	}

	got, _ := db.GetAnnotatorStat(ctx, database.StatKey{AnnotatorID: "A1", Language: "yoruba", ReportDate: "2026-03-01"})
	if got.Name != "Renamed" || got.FilesRead != 42 || got.MinutesRecorded != 10 || !got.HasStarted {
		t.Errorf("unexpected row after partial update %+v", got)
	}
	if got.CreatedAt != "2026-03-01" {
		t.Errorf("created_at must be set once, got %q", got.CreatedAt)
	}
}

func TestReconcileNotStartedRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	rec, ok := report.ReportBlock{ID: "B1", Name: "Bea", NotStarted: true}.Record("hausa", "2026-03-02")
	if !ok {
		t.Fatal("expected not-started record")
	}
	if _, err := New(db).ReconcileAll(ctx, []report.Record{rec}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := db.GetAnnotatorStat(ctx, database.StatKey{AnnotatorID: "B1", Language: "hausa", ReportDate: "2026-03-02"})
	if got == nil || got.HasStarted || got.FilesRead != 0 {
		t.Errorf("unexpected not-started row %+v", got)
	}
}

func TestReconcileSkipsRecordsWithoutKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	noDate := report.Record{AnnotatorID: "A9", Language: "yoruba", Fields: report.FieldName, Name: "Nine"}
	noID := report.Record{Language: "yoruba", ReportDate: "2026-03-01", Fields: report.FieldName}

	res, err := New(db).ReconcileAll(ctx, []report.Record{statsRecord("A1", 1, 1), noDate, noID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 2 {
		t.Errorf("expected 1 inserted and 2 skipped, got %s", res)
	}

	rows, _ := db.ListAnnotatorStats(ctx, database.StatFilter{})
	if len(rows) != 1 || rows[0].AnnotatorID != "A1" {
		t.Errorf("expected only A1 to be stored, got %+v", rows)
	}
}

func TestReconcileRollsBackWholeBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	defer db.Close()

	// Make the store refuse A2 so the batch fails after A1 was written.
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening raw connection: %v", err)
	}
	_, err = raw.Exec(`CREATE TRIGGER reject_a2 BEFORE INSERT ON annotator_stats
		WHEN NEW.annotator_id = 'A2' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	raw.Close()
	if err != nil {
		t.Fatalf("creating trigger: %v", err)
	}

	ctx := context.Background()
	_, err = New(db).ReconcileAll(ctx, []report.Record{statsRecord("A1", 1, 1), statsRecord("A2", 2, 2)})
	if !apperr.Is(err, apperr.KindPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}

	rows, _ := db.ListAnnotatorStats(ctx, database.StatFilter{})
	if len(rows) != 0 {
		t.Errorf("expected rollback to leave no rows, got %d", len(rows))
	}
}

func TestNewRowDefaults(t *testing.T) {
	row := newRow(report.Record{AnnotatorID: "X", Language: "igbo", ReportDate: "2026-03-01", Name: "X", Fields: report.FieldName}, "ts")
	if !row.HasStarted || row.FilesRead != 0 || row.CreatedAt != "ts" {
		t.Errorf("unexpected defaults %+v", row)
	}
}
