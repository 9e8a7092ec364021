package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/database"
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

type fakeRepo struct {
	dir      string
	err      error
	refreshs int
}

func (f *fakeRepo) Refresh(context.Context) (bool, error) {
	f.refreshs++
	return false, f.err
}

func (f *fakeRepo) ReportsDir() string { return f.dir }

// hangUpRepo cancels the caller's context during the pull, the way a
// webhook sender disconnecting mid-request does.
type hangUpRepo struct {
	fakeRepo
	cancel context.CancelFunc
}

func (h *hangUpRepo) Refresh(ctx context.Context) (bool, error) {
	h.cancel()
	return false, ctx.Err()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func reportsTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "yoruba", "20260301", "report.txt"), "ID: Y1\nName: Ada\nhas not started\n")
	writeFile(t, filepath.Join(dir, "yoruba", "20260301", "stats.csv"),
		"ID,Name,Files Read,Remaining Texts,Minutes Recorded\nY2,Bola,10,590,4.5\n")
	writeFile(t, filepath.Join(dir, "hausa", "20260301", "stats.csv"),
		"ID,Name,Files Read,Remaining Texts,Minutes Recorded\nH1,Hadiza,600,0,120\n")
	writeFile(t, filepath.Join(dir, "hausa", "broken", "stats.csv"), "nothing useful")
	return dir
}

func TestRunCommitsAndIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := &fakeRepo{dir: reportsTree(t)}
	s := New(db, repo, 2, nil)
	ctx := context.Background()

	r, err := s.Run(ctx, Options{Trigger: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.State != StateCommitted {
		t.Errorf("expected committed, got %s", r.State)
	}
	if r.Records != 3 || r.Reconciled.Inserted != 3 {
		t.Errorf("expected 3 inserted records, got %d / %s", r.Records, r.Reconciled)
	}
	if len(r.Languages) != 2 || r.Languages[0] != "hausa" {
		t.Errorf("unexpected languages %v", r.Languages)
	}
	if len(r.Skipped) != 1 {
		t.Errorf("expected the broken folder to be skipped, got %+v", r.Skipped)
	}
	if len(r.Steps) != 3 {
		t.Errorf("expected 3 steps, got %d", len(r.Steps))
	}

	before, _ := db.ListAnnotatorStats(ctx, database.StatFilter{})

	r, err = s.Run(ctx, Options{Trigger: "test"})
	if err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if r.Reconciled.Unchanged != 3 || r.Reconciled.Inserted != 0 || r.Reconciled.Updated != 0 {
		t.Errorf("expected no changes on rerun, got %s", r.Reconciled)
	}
	after, _ := db.ListAnnotatorStats(ctx, database.StatFilter{})
	if len(before) != len(after) {
		t.Fatalf("row count changed on rerun")
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("row %d changed on rerun", i)
		}
	}

	runs, _ := db.ListSyncRuns(ctx, 10)
	if len(runs) != 2 || runs[0].Status != database.SyncOK || runs[0].RecordCount != 3 {
		t.Errorf("unexpected sync history %+v", runs)
	}
	if repo.refreshs != 2 {
		t.Errorf("expected 2 refreshes, got %d", repo.refreshs)
	}
}

func TestRunSurvivesCallerCancellation(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &hangUpRepo{fakeRepo: fakeRepo{dir: reportsTree(t)}, cancel: cancel}
	s := New(db, repo, 2, nil)

	r, err := s.Run(ctx, Options{Trigger: "webhook"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.State != StateCommitted {
		t.Errorf("expected committed, got %s", r.State)
	}
	if ctx.Err() == nil {
		t.Error("expected the caller's context to be cancelled")
	}
	rows, _ := db.ListAnnotatorStats(context.Background(), database.StatFilter{})
	if len(rows) != 3 {
		t.Errorf("expected 3 rows after the run, got %d", len(rows))
	}
}

func TestRunTimeout(t *testing.T) {
	db := openTestDB(t)
	s := New(db, &slowRepo{fakeRepo: fakeRepo{dir: reportsTree(t)}}, 1, nil)
	s.SetTimeout(20 * time.Millisecond)

	r, err := s.Run(context.Background(), Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if r.State != StateFailed {
		t.Errorf("expected failed, got %s", r.State)
	}
	runs, _ := db.ListSyncRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != database.SyncFailed {
		t.Errorf("expected a failed sync run, got %+v", runs)
	}
}

type slowRepo struct{ fakeRepo }

func (s *slowRepo) Refresh(ctx context.Context) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestRunRefreshFailure(t *testing.T) {
	db := openTestDB(t)
	repo := &fakeRepo{dir: t.TempDir(), err: apperr.Sync("pulling repository", errors.New("exit 1"))}
	s := New(db, repo, 1, nil)

	r, err := s.Run(context.Background(), Options{Trigger: "webhook"})
	if !apperr.Is(err, apperr.KindSync) {
		t.Fatalf("expected sync error, got %v", err)
	}
	if r == nil || r.State != StateFailed {
		t.Fatalf("expected failed result, got %+v", r)
	}
	if len(r.Steps) != 1 {
		t.Errorf("expected to stop after refresh, got %d steps", len(r.Steps))
	}

	runs, _ := db.ListSyncRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != database.SyncFailed || runs[0].Error == nil {
		t.Errorf("expected failed run recorded, got %+v", runs)
	}
}

func TestRunSkipRefresh(t *testing.T) {
	db := openTestDB(t)
	repo := &fakeRepo{dir: reportsTree(t), err: errors.New("must not be called")}
	s := New(db, repo, 1, nil)

	r, err := s.Run(context.Background(), Options{SkipRefresh: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.refreshs != 0 {
		t.Error("refresh should be skipped")
	}
	if len(r.Steps) != 2 || r.Trigger != "manual" {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestRunMissingReportsDir(t *testing.T) {
	db := openTestDB(t)
	repo := &fakeRepo{dir: filepath.Join(t.TempDir(), "absent")}
	s := New(db, repo, 1, nil)

	_, err := s.Run(context.Background(), Options{})
	if !apperr.Is(err, apperr.KindSync) {
		t.Errorf("expected sync error for missing tree, got %v", err)
	}
}

func TestRunRejectsConcurrentSync(t *testing.T) {
	db := openTestDB(t)
	s := New(db, &fakeRepo{dir: reportsTree(t)}, 1, nil)

	s.mu.Lock()
	_, err := s.Run(context.Background(), Options{})
	s.mu.Unlock()

	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if apperr.StatusOf(err) != 409 {
		t.Errorf("expected 409, got %d", apperr.StatusOf(err))
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	db := openTestDB(t)
	s := New(db, &fakeRepo{dir: reportsTree(t)}, 1, nil)

	r, err := s.DryRun(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Records != 3 || r.State != StateParsed {
		t.Errorf("unexpected dry run %+v", r)
	}
	rows, _ := db.ListAnnotatorStats(context.Background(), database.StatFilter{})
	if len(rows) != 0 {
		t.Errorf("dry run must not write, got %d rows", len(rows))
	}
}

func TestStateString(t *testing.T) {
	if StateCommitted.String() != "committed" || StateAwaitingSignature.String() != "awaiting_signature" {
		t.Error("unexpected state names")
	}
}
