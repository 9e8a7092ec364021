// Package reconcile applies parsed report records to the annotator_stats
// table, inserting new rows and updating only the fields a record supplies.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/annotrack/internal/apperr"
	"github.com/TobiSchelling/annotrack/internal/database"
	"github.com/TobiSchelling/annotrack/internal/report"
)

// Outcome is what happened to one record.
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Updated
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	}
	return "unchanged"
}

// Result counts outcomes for a batch.
type Result struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

// Total is the number of records processed.
func (r Result) Total() int { return r.Inserted + r.Updated + r.Unchanged + r.Skipped }

func (r Result) String() string {
	return fmt.Sprintf("%d inserted, %d updated, %d unchanged, %d skipped",
		r.Inserted, r.Updated, r.Unchanged, r.Skipped)
}

// Reconciler writes records through the database.
type Reconciler struct {
	db  *database.DB
	now func() time.Time
}

// New returns a Reconciler for db.
func New(db *database.DB) *Reconciler {
	return &Reconciler{db: db, now: time.Now}
}

// ReconcileAll applies records in one transaction. Records without an
// annotator, language or date are skipped. Any store failure rolls back
// the whole batch and is reported as a persistence error.
func (r *Reconciler) ReconcileAll(ctx context.Context, records []report.Record) (Result, error) {
	var res Result
	batch, err := r.db.BeginBatch(ctx)
	if err != nil {
		return res, apperr.Persistence("starting reconciliation", err)
	}
	defer batch.Rollback()

	createdAt := r.now().Format(database.ReportDateLayout)
	for _, rec := range records {
		outcome, err := r.apply(ctx, batch, rec, createdAt)
		if err != nil {
			return Result{}, apperr.Persistence(
				fmt.Sprintf("reconciling %s/%s/%s", rec.Language, rec.ReportDate, rec.AnnotatorID), err)
		}
		switch outcome {
		case Inserted:
			res.Inserted++
		case Updated:
			res.Updated++
		case Skipped:
			res.Skipped++
		default:
			res.Unchanged++
		}
	}

	if err := batch.Commit(); err != nil {
		return Result{}, apperr.Persistence("committing reconciliation", err)
	}
	log.Printf("reconciled %d records: %s", res.Total(), res)
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, batch *database.Batch, rec report.Record, createdAt string) (Outcome, error) {
	if rec.AnnotatorID == "" || rec.Language == "" || rec.ReportDate == "" {
		log.Printf("skipping record without annotator, language or date: %q/%q/%q",
			rec.Language, rec.ReportDate, rec.AnnotatorID)
		return Skipped, nil
	}
	key := database.StatKey{AnnotatorID: rec.AnnotatorID, Language: rec.Language, ReportDate: rec.ReportDate}

	existing, err := batch.Get(ctx, key)
	if err != nil {
		return Unchanged, err
	}
	if existing == nil {
		row := newRow(rec, createdAt)
		if _, err := batch.Insert(ctx, &row); err != nil {
			return Unchanged, err
		}
		return Inserted, nil
	}

	if !merge(existing, rec) {
		return Unchanged, nil
	}
	if err := batch.Update(ctx, existing); err != nil {
		return Unchanged, err
	}
	return Updated, nil
}

// newRow builds an insert from rec. Fields rec does not supply take the
// column defaults: zero counts, HasStarted=true.
func newRow(rec report.Record, createdAt string) database.AnnotatorStat {
	row := database.AnnotatorStat{
		AnnotatorID: rec.AnnotatorID,
		Language:    rec.Language,
		ReportDate:  rec.ReportDate,
		HasStarted:  true,
		CreatedAt:   createdAt,
	}
	merge(&row, rec)
	return row
}

// merge copies the supplied fields of rec into row and reports whether
// anything changed.
func merge(row *database.AnnotatorStat, rec report.Record) bool {
	changed := false
	if rec.Has(report.FieldName) && row.Name != rec.Name {
		row.Name = rec.Name
		changed = true
	}
	if rec.Has(report.FieldFilesRead) && row.FilesRead != rec.FilesRead {
		row.FilesRead = rec.FilesRead
		changed = true
	}
	if rec.Has(report.FieldRemainingTexts) && row.RemainingTexts != rec.RemainingTexts {
		row.RemainingTexts = rec.RemainingTexts
		changed = true
	}
	if rec.Has(report.FieldMinutesRecorded) && row.MinutesRecorded != rec.MinutesRecorded {
		row.MinutesRecorded = rec.MinutesRecorded
		changed = true
	}
	if rec.Has(report.FieldHasStarted) && row.HasStarted != rec.HasStarted {
		row.HasStarted = rec.HasStarted
		changed = true
	}
	return changed
}
