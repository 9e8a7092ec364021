package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertSyncRun records the start of a sync run.
func (db *DB) InsertSyncRun(ctx context.Context, run SyncRun) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO sync_runs (id, trigger_source, status, started_at) VALUES (?, ?, ?, ?)`),
		run.ID, run.Trigger, run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting sync run: %w", err)
	}
	return nil
}

// FinishSyncRun stores the outcome of run, identified by run.ID.
func (db *DB) FinishSyncRun(ctx context.Context, run SyncRun) error {
	langs, err := json.Marshal(run.Languages)
	if err != nil {
		return fmt.Errorf("encoding languages: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, db.rebind(`
		UPDATE sync_runs
		SET status = ?, finished_at = ?, record_count = ?, inserted = ?, updated = ?, languages = ?, error = ?
		WHERE id = ?`),
		run.Status, run.FinishedAt, run.RecordCount, run.Inserted, run.Updated, string(langs), run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent runs first.
func (db *DB) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT id, trigger_source, status, started_at, finished_at, record_count, inserted, updated, languages, error
		FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var langs sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.RecordCount, &r.Inserted, &r.Updated, &langs, &r.Error); err != nil {
			return nil, err
		}
		if langs.Valid && langs.String != "" {
			_ = json.Unmarshal([]byte(langs.String), &r.Languages)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
