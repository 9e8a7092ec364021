package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
)

const statColumns = `id, annotator_id, name, language, report_date, files_read,
	remaining_texts, minutes_recorded, has_started, created_at`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ListAnnotatorStats returns stored rows ordered by language, report date
// and annotator ID.
func (db *DB) ListAnnotatorStats(ctx context.Context, f StatFilter) ([]AnnotatorStat, error) {
	var where []string
	var args []any
	if f.Language != "" {
		where = append(where, "s.language = ?")
		args = append(args, f.Language)
	}
	if f.ReportDate != "" {
		where = append(where, "s.report_date = ?")
		args = append(args, f.ReportDate)
	}
	if f.Latest {
		where = append(where, `s.report_date = (
			SELECT MAX(l.report_date) FROM annotator_stats l WHERE l.language = s.language)`)
	}

	query := "SELECT " + prefixColumns("s.", statColumns) + " FROM annotator_stats s"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.language, s.report_date, s.annotator_id"

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing annotator stats: %w", err)
	}
	defer rows.Close()
	return scanStats(rows)
}

// GetAnnotatorStat returns the row for key, or nil if none exists.
func (db *DB) GetAnnotatorStat(ctx context.Context, key StatKey) (*AnnotatorStat, error) {
	return getStat(ctx, db.conn, db.dialect, key)
}

// LanguageTotals aggregates each language's most recent report date.
func (db *DB) LanguageTotals(ctx context.Context) ([]LanguageTotal, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.language, COUNT(*), COALESCE(SUM(s.has_started), 0),
			COALESCE(SUM(s.files_read), 0), COALESCE(SUM(s.remaining_texts), 0),
			COALESCE(SUM(s.minutes_recorded), 0), MAX(s.report_date)
		FROM annotator_stats s
		WHERE s.report_date = (
			SELECT MAX(l.report_date) FROM annotator_stats l WHERE l.language = s.language)
		GROUP BY s.language
		ORDER BY s.language`)
	if err != nil {
		return nil, fmt.Errorf("aggregating languages: %w", err)
	}
	defer rows.Close()

	var totals []LanguageTotal
	for rows.Next() {
		var t LanguageTotal
		if err := rows.Scan(&t.Language, &t.Annotators, &t.Started, &t.FilesRead,
			&t.RemainingTexts, &t.MinutesRecorded, &t.LatestReport); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// AnnotatorCounts groups all stored rows by language. Minutes are rounded
// to two decimals.
func (db *DB) AnnotatorCounts(ctx context.Context) ([]AnnotatorCount, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT language, COUNT(id), COALESCE(SUM(minutes_recorded), 0), COALESCE(SUM(files_read), 0)
		FROM annotator_stats
		GROUP BY language
		ORDER BY language`)
	if err != nil {
		return nil, fmt.Errorf("counting annotators: %w", err)
	}
	defer rows.Close()

	counts := []AnnotatorCount{}
	for rows.Next() {
		var c AnnotatorCount
		if err := rows.Scan(&c.Language, &c.AnnotatorCount, &c.TotalMinutes, &c.TotalFilesRead); err != nil {
			return nil, err
		}
		c.TotalMinutes = math.Round(c.TotalMinutes*100) / 100
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// LatestReportDate returns the newest report date stored for language, or
// across all languages when language is empty. It returns "" when no rows exist.
func (db *DB) LatestReportDate(ctx context.Context, language string) (string, error) {
	query := "SELECT MAX(report_date) FROM annotator_stats"
	var args []any
	if language != "" {
		query += " WHERE language = ?"
		args = append(args, language)
	}
	var latest sql.NullString
	if err := db.conn.QueryRowContext(ctx, db.rebind(query), args...).Scan(&latest); err != nil {
		return "", fmt.Errorf("reading latest report date: %w", err)
	}
	return latest.String, nil
}

// Languages returns the distinct stored languages in sorted order.
func (db *DB) Languages(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT language FROM annotator_stats ORDER BY language")
	if err != nil {
		return nil, fmt.Errorf("listing languages: %w", err)
	}
	defer rows.Close()
	var langs []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		langs = append(langs, l)
	}
	return langs, rows.Err()
}

// GetStats returns aggregate counts across all tables.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT annotator_id), COUNT(DISTINCT language), COUNT(DISTINCT report_date)
		FROM annotator_stats`).Scan(&s.TotalRows, &s.Annotators, &s.Languages, &s.ReportDates)
	if err != nil {
		return nil, fmt.Errorf("counting annotator stats: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_runs").Scan(&s.SyncRuns); err != nil {
		return nil, fmt.Errorf("counting sync runs: %w", err)
	}
	runs, err := db.ListSyncRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		s.LastSync = &runs[0]
	}
	return &s, nil
}

// Batch is a transaction spanning one reconciliation pass.
type Batch struct {
	tx      *sql.Tx
	dialect dialect
}

// BeginBatch opens a transaction for a reconciliation pass.
func (db *DB) BeginBatch(ctx context.Context) (*Batch, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &Batch{tx: tx, dialect: db.dialect}, nil
}

// Get returns the row for key inside the batch, or nil if none exists.
func (b *Batch) Get(ctx context.Context, key StatKey) (*AnnotatorStat, error) {
	return getStat(ctx, b.tx, b.dialect, key)
}

// Insert adds s and returns its ID. A duplicate natural key is an error.
func (b *Batch) Insert(ctx context.Context, s *AnnotatorStat) (int64, error) {
	var id int64
	err := b.tx.QueryRowContext(ctx, b.dialect.rebind(`
		INSERT INTO annotator_stats (annotator_id, name, language, report_date, files_read,
			remaining_texts, minutes_recorded, has_started, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		s.AnnotatorID, s.Name, s.Language, s.ReportDate, s.FilesRead,
		s.RemainingTexts, s.MinutesRecorded, boolToInt(s.HasStarted), s.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting %s/%s/%s: %w", s.Language, s.ReportDate, s.AnnotatorID, err)
	}
	return id, nil
}

// Update overwrites the mutable columns of the row with s.ID.
// created_at and the natural key are never rewritten.
func (b *Batch) Update(ctx context.Context, s *AnnotatorStat) error {
	_, err := b.tx.ExecContext(ctx, b.dialect.rebind(`
		UPDATE annotator_stats
		SET name = ?, files_read = ?, remaining_texts = ?, minutes_recorded = ?, has_started = ?
		WHERE id = ?`),
		s.Name, s.FilesRead, s.RemainingTexts, s.MinutesRecorded, boolToInt(s.HasStarted), s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating stat %d: %w", s.ID, err)
	}
	return nil
}

func (b *Batch) Commit() error { return b.tx.Commit() }

// Rollback aborts the batch. Calling it after Commit is a no-op.
func (b *Batch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func getStat(ctx context.Context, q querier, d dialect, key StatKey) (*AnnotatorStat, error) {
	row := q.QueryRowContext(ctx, d.rebind(
		"SELECT "+statColumns+" FROM annotator_stats WHERE annotator_id = ? AND language = ? AND report_date = ?"),
		key.AnnotatorID, key.Language, key.ReportDate)
	s, err := scanStat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading stat: %w", err)
	}
	return s, nil
}

func scanStats(rows *sql.Rows) ([]AnnotatorStat, error) {
	var stats []AnnotatorStat
	for rows.Next() {
		var s AnnotatorStat
		var started int
		if err := rows.Scan(&s.ID, &s.AnnotatorID, &s.Name, &s.Language, &s.ReportDate,
			&s.FilesRead, &s.RemainingTexts, &s.MinutesRecorded, &started, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.HasStarted = started != 0
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func scanStat(row *sql.Row) (*AnnotatorStat, error) {
	var s AnnotatorStat
	var started int
	if err := row.Scan(&s.ID, &s.AnnotatorID, &s.Name, &s.Language, &s.ReportDate,
		&s.FilesRead, &s.RemainingTexts, &s.MinutesRecorded, &started, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.HasStarted = started != 0
	return &s, nil
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
