package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/database"
	"github.com/TobiSchelling/annotrack/internal/metrics"
	"github.com/TobiSchelling/annotrack/internal/reconcile"
	"github.com/TobiSchelling/annotrack/internal/report"
)

// State is how far a sync got. A webhook delivery moves through every
// state in order; any failure ends the run in StateFailed.
type State int

const (
	StateAwaitingSignature State = iota
	StateVerified
	StateRefreshed
	StateParsed
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingSignature:
		return "awaiting_signature"
	case StateVerified:
		return "verified"
	case StateRefreshed:
		return "refreshed"
	case StateParsed:
		return "parsed"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a sync run.
type Result struct {
	RunID      string
	Trigger    string
	State      State
	Steps      []StepResult
	Records    int
	Languages  []string
	Skipped    []report.Skipped
	Reconciled reconcile.Result
}

// Err returns the first failed step's error.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Refresher brings the local report tree up to date.
type Refresher interface {
	Refresh(ctx context.Context) (cloned bool, err error)
	ReportsDir() string
}

// Options control a single run.
type Options struct {
	// Trigger labels the run in sync history, e.g. "webhook" or "cli".
	Trigger string
	// SkipRefresh parses the local tree without pulling.
	SkipRefresh bool
}

// Syncer runs refresh, parse and reconcile. At most one run executes at a time.
type Syncer struct {
	db         *database.DB
	repo       Refresher
	reconciler *reconcile.Reconciler
	workers    int
	timeout    time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time

	mu sync.Mutex
}

// DefaultTimeout bounds a run when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

// New creates a Syncer.
func New(db *database.DB, repo Refresher, workers int, m *metrics.Metrics) *Syncer {
	if workers < 1 {
		workers = 1
	}
	return &Syncer{
		db:         db,
		repo:       repo,
		reconciler: reconcile.New(db),
		workers:    workers,
		timeout:    DefaultTimeout,
		metrics:    m,
		now:        time.Now,
	}
}

// SetTimeout bounds every run. Zero or less keeps DefaultTimeout.
func (s *Syncer) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Run executes the pipeline. A concurrent call fails fast with a conflict
// error instead of queueing. The returned Result is non-nil whenever the
// run started, even on failure.
//
// Once started, a run is not cancelled with ctx: a webhook sender hanging
// up must not abort a pull or drop a batch. Only the timeout stops it.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, apperr.Conflict("a sync is already running")
	}
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if opts.Trigger == "" {
		opts.Trigger = "manual"
	}
	start := s.now()
	r := &Result{RunID: uuid.NewString(), Trigger: opts.Trigger, State: StateVerified}
	run := database.SyncRun{
		ID:        r.RunID,
		Trigger:   opts.Trigger,
		Status:    database.SyncRunning,
		StartedAt: database.Timestamp(start),
	}
	if err := s.db.InsertSyncRun(ctx, run); err != nil {
		return nil, apperr.Persistence("recording sync run", err)
	}

	err := s.execute(ctx, opts, r)

	finished := database.Timestamp(s.now())
	run.FinishedAt = &finished
	run.RecordCount = r.Records
	run.Inserted = r.Reconciled.Inserted
	run.Updated = r.Reconciled.Updated
	run.Languages = r.Languages
	run.Status = database.SyncOK
	if err != nil {
		run.Status = database.SyncFailed
		msg := err.Error()
		run.Error = &msg
		r.State = StateFailed
	}
	// Record the outcome even when the run timed out.
	if ferr := s.db.FinishSyncRun(context.WithoutCancel(ctx), run); ferr != nil {
		log.Printf("recording sync run %s: %v", run.ID, ferr)
	}
	s.metrics.ObserveSync(run.Status, s.now().Sub(start))
	return r, err
}

func (s *Syncer) execute(ctx context.Context, opts Options, r *Result) error {
	total := 3
	if opts.SkipRefresh {
		total = 2
	}
	n := 0

	if !opts.SkipRefresh {
		n++
		log.Printf("Step %d/%d: Refreshing repository...", n, total)
		step := s.runRefresh(ctx)
		r.Steps = append(r.Steps, step)
		if step.Err != nil {
			return step.Err
		}
	}
	r.State = StateRefreshed

	n++
	log.Printf("Step %d/%d: Parsing reports...", n, total)
	tree, step := s.runParse(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return step.Err
	}
	r.State = StateParsed
	r.Records = len(tree.Records)
	r.Languages = tree.Languages
	r.Skipped = tree.Skipped

	n++
	log.Printf("Step %d/%d: Reconciling records...", n, total)
	res, step := s.runReconcile(ctx, tree.Records)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return step.Err
	}
	r.Reconciled = res
	r.State = StateCommitted
	return nil
}

// DryRun parses the local tree and reports what reconciliation would see,
// without pulling or writing.
func (s *Syncer) DryRun(ctx context.Context) (*Result, error) {
	r := &Result{Trigger: "dry-run", State: StateVerified}
	tree, step := s.runParse(ctx)
	step.Summary = "[dry-run] " + step.Summary
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r, step.Err
	}
	r.State = StateParsed
	r.Records = len(tree.Records)
	r.Languages = tree.Languages
	r.Skipped = tree.Skipped

	stored, err := s.db.GetStats(ctx)
	if err != nil {
		return r, err
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Reconcile",
		Summary: fmt.Sprintf("[dry-run] would reconcile %d records against %d stored rows", len(tree.Records), stored.TotalRows),
	})
	return r, nil
}

func (s *Syncer) runRefresh(ctx context.Context) StepResult {
	cloned, err := s.repo.Refresh(ctx)
	if err != nil {
		return StepResult{Name: "Refresh", Err: err}
	}
	if cloned {
		return StepResult{Name: "Refresh", Summary: "Cloned repository"}
	}
	return StepResult{Name: "Refresh", Summary: "Pulled latest changes"}
}

func (s *Syncer) runParse(ctx context.Context) (*report.TreeResult, StepResult) {
	dir := s.repo.ReportsDir()
	tree, err := report.ParseTree(ctx, os.DirFS(dir), ".", s.workers)
	if err != nil {
		if !errors.Is(err, context.Canceled) && apperr.KindOf(err) == "" {
			err = apperr.Sync("parsing "+dir, err)
		}
		return nil, StepResult{Name: "Parse", Err: err}
	}
	s.metrics.AddSkippedFolders(len(tree.Skipped))
	return tree, StepResult{
		Name: "Parse",
		Summary: fmt.Sprintf("Parsed %d records from %d folders (%d skipped, %d languages)",
			len(tree.Records), tree.Folders, len(tree.Skipped), len(tree.Languages)),
	}
}

func (s *Syncer) runReconcile(ctx context.Context, records []report.Record) (reconcile.Result, StepResult) {
	res, err := s.reconciler.ReconcileAll(ctx, records)
	if err != nil {
		return res, StepResult{Name: "Reconcile", Err: err}
	}
	s.metrics.AddReconciled(res.Inserted, res.Updated, res.Unchanged)
	return res, StepResult{Name: "Reconcile", Summary: "Reconciled " + res.String()}
}
