package database

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func stat(id, lang, date string, files int, minutes float64) *AnnotatorStat {
	return &AnnotatorStat{
		AnnotatorID:     id,
		Name:            "Annotator " + id,
		Language:        lang,
		ReportDate:      date,
		FilesRead:       files,
		RemainingTexts:  600 - files,
		MinutesRecorded: minutes,
		HasStarted:      files > 0,
		CreatedAt:       "2026-03-01T10:00:00Z",
	}
}

func insertStats(t *testing.T, db *DB, stats ...*AnnotatorStat) {
	t.Helper()
	ctx := context.Background()
	b, err := db.BeginBatch(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, s := range stats {
		id, err := b.Insert(ctx, s)
		if err != nil {
			b.Rollback()
			t.Fatalf("insert: %v", err)
		}
		s.ID = id
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestInsertAndGetAnnotatorStat(t *testing.T) {
	db := openTestDB(t)
	s := stat("A1", "yoruba", "2026-03-01", 42, 12.5)
	insertStats(t, db, s)
	if s.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	got, err := db.GetAnnotatorStat(context.Background(), s.Key())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected stat, got nil")
	}
	if got.FilesRead != 42 || got.MinutesRecorded != 12.5 || !got.HasStarted {
		t.Errorf("unexpected stat %+v", got)
	}
	if got.CreatedAt != "2026-03-01T10:00:00Z" {
		t.Errorf("expected created_at preserved, got %q", got.CreatedAt)
	}
}

func TestGetAnnotatorStatMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetAnnotatorStat(context.Background(), StatKey{"nope", "hausa", "2026-01-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestNaturalKeyIsUnique(t *testing.T) {
	db := openTestDB(t)
	insertStats(t, db, stat("A1", "yoruba", "2026-03-01", 1, 1))

	ctx := context.Background()
	b, err := db.BeginBatch(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer b.Rollback()
	if _, err := b.Insert(ctx, stat("A1", "yoruba", "2026-03-01", 2, 2)); err == nil {
		t.Error("expected duplicate key error")
	}
}

func TestSameAnnotatorDifferentDays(t *testing.T) {
	db := openTestDB(t)
	insertStats(t, db,
		stat("A1", "yoruba", "2026-03-01", 1, 1),
		stat("A1", "yoruba", "2026-03-02", 2, 2),
		stat("A1", "hausa", "2026-03-02", 3, 3),
	)

	all, err := db.ListAnnotatorStats(context.Background(), StatFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 rows, got %d", len(all))
	}
}

func TestBatchUpdateKeepsCreatedAt(t *testing.T) {
	db := openTestDB(t)
	s := stat("A1", "igbo", "2026-03-01", 10, 5)
	insertStats(t, db, s)

	ctx := context.Background()
	b, err := db.BeginBatch(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.FilesRead = 20
	s.CreatedAt = "1999-01-01T00:00:00Z"
	if err := b.Update(ctx, s); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, _ := db.GetAnnotatorStat(ctx, s.Key())
	if got.FilesRead != 20 {
		t.Errorf("expected files_read 20, got %d", got.FilesRead)
	}
	if got.CreatedAt != "2026-03-01T10:00:00Z" {
		t.Errorf("created_at must not change, got %q", got.CreatedAt)
	}
}

func TestBatchRollbackDiscardsWrites(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	b, err := db.BeginBatch(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := b.Insert(ctx, stat("A1", "igbo", "2026-03-01", 1, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := b.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := b.Rollback(); err != nil {
		t.Errorf("second rollback should be a no-op, got %v", err)
	}

	all, _ := db.ListAnnotatorStats(ctx, StatFilter{})
	if len(all) != 0 {
		t.Errorf("expected no rows after rollback, got %d", len(all))
	}
}

func TestListAnnotatorStatsFilters(t *testing.T) {
	db := openTestDB(t)
	insertStats(t, db,
		stat("A1", "yoruba", "2026-03-01", 1, 1),
		stat("A2", "yoruba", "2026-03-02", 2, 2),
		stat("A3", "yoruba", "2026-03-02", 3, 3),
		stat("B1", "hausa", "2026-03-01", 4, 4),
	)
	ctx := context.Background()

	yoruba, _ := db.ListAnnotatorStats(ctx, StatFilter{Language: "yoruba"})
	if len(yoruba) != 3 {
		t.Errorf("expected 3 yoruba rows, got %d", len(yoruba))
	}

	day, _ := db.ListAnnotatorStats(ctx, StatFilter{ReportDate: "2026-03-01"})
	if len(day) != 2 {
		t.Errorf("expected 2 rows on 2026-03-01, got %d", len(day))
	}

	latest, _ := db.ListAnnotatorStats(ctx, StatFilter{Latest: true})
	if len(latest) != 3 {
		t.Fatalf("expected 3 latest rows, got %d", len(latest))
	}
	if latest[0].Language != "hausa" || latest[1].AnnotatorID != "A2" || latest[2].AnnotatorID != "A3" {
		t.Errorf("unexpected order %+v", latest)
	}
}

func TestLanguageTotals(t *testing.T) {
	db := openTestDB(t)
	insertStats(t, db,
		stat("A1", "yoruba", "2026-03-01", 100, 50),
		stat("A1", "yoruba", "2026-03-02", 10, 5),
		stat("A2", "yoruba", "2026-03-02", 0, 0),
		stat("B1", "hausa", "2026-03-01", 4, 2.5),
	)

	totals, err := db.LanguageTotals(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("expected 2 languages, got %d", len(totals))
	}
	y := totals[1]
	if y.Language != "yoruba" || y.Annotators != 2 || y.Started != 1 || y.FilesRead != 10 || y.LatestReport != "2026-03-02" {
		t.Errorf("unexpected yoruba totals %+v", y)
	}
	if totals[0].MinutesRecorded != 2.5 {
		t.Errorf("expected hausa minutes 2.5, got %v", totals[0].MinutesRecorded)
	}
}

func TestAnnotatorCountsSpanAllDates(t *testing.T) {
	db := openTestDB(t)
	insertStats(t, db,
		stat("A1", "yoruba", "2026-03-01", 100, 50.004),
		stat("A1", "yoruba", "2026-03-02", 10, 5),
		stat("B1", "hausa", "2026-03-01", 4, 2.5),
	)

	counts, err := db.AnnotatorCounts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 languages, got %d", len(counts))
	}
	y := counts[1]
	if y.AnnotatorCount != 2 || y.TotalFilesRead != 110 || y.TotalMinutes != 55 {
		t.Errorf("unexpected yoruba counts %+v", y)
	}
}

func TestAnnotatorCountsEmpty(t *testing.T) {
	db := openTestDB(t)
	counts, err := db.AnnotatorCounts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts == nil || len(counts) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", counts)
	}
}

func TestLatestReportDateAndLanguages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	empty, err := db.LatestReportDate(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty != "" {
		t.Errorf("expected empty date on empty table, got %q", empty)
	}

	insertStats(t, db,
		stat("A1", "yoruba", "2026-03-05", 1, 1),
		stat("B1", "hausa", "2026-03-07", 1, 1),
	)
	if got, _ := db.LatestReportDate(ctx, "yoruba"); got != "2026-03-05" {
		t.Errorf("expected 2026-03-05, got %q", got)
	}
	if got, _ := db.LatestReportDate(ctx, ""); got != "2026-03-07" {
		t.Errorf("expected 2026-03-07, got %q", got)
	}
	langs, _ := db.Languages(ctx)
	if len(langs) != 2 || langs[0] != "hausa" {
		t.Errorf("unexpected languages %v", langs)
	}
}

func TestSyncRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run := SyncRun{ID: "run-1", Trigger: "webhook", Status: SyncRunning, StartedAt: "2026-03-01T10:00:00Z"}
	if err := db.InsertSyncRun(ctx, run); err != nil {
		t.Fatalf("insert: %v", err)
	}
	run.Status = SyncOK
	run.FinishedAt = ptr("2026-03-01T10:00:05Z")
	run.RecordCount = 12
	run.Inserted = 10
	run.Updated = 2
	run.Languages = []string{"hausa", "yoruba"}
	if err := db.FinishSyncRun(ctx, run); err != nil {
		t.Fatalf("finish: %v", err)
	}

	later := SyncRun{ID: "run-2", Trigger: "cli", Status: SyncRunning, StartedAt: "2026-03-02T10:00:00Z"}
	if err := db.InsertSyncRun(ctx, later); err != nil {
		t.Fatalf("insert: %v", err)
	}

	runs, err := db.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("expected newest first, got %q", runs[0].ID)
	}
	if runs[1].RecordCount != 12 || len(runs[1].Languages) != 2 || runs[1].FinishedAt == nil {
		t.Errorf("unexpected finished run %+v", runs[1])
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.SyncRuns != 2 || stats.LastSync == nil || stats.LastSync.ID != "run-2" {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	if got := dialectSQLite.rebind(q); got != q {
		t.Errorf("sqlite should keep placeholders, got %q", got)
	}
	if got := dialectPostgres.rebind(q); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected postgres query %q", got)
	}
}

func TestFormatDateDisplay(t *testing.T) {
	if got := FormatDateDisplay("2026-02-06"); got != "Feb 06, 2026" {
		t.Errorf("expected 'Feb 06, 2026', got %q", got)
	}
	if got := FormatDateDisplay("garbage"); got != "garbage" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
