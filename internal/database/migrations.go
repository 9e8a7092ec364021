package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx, d dialect) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
// DDL must run unchanged on SQLite and Postgres apart from the id column.
var migrations = []Migration{
	{
		Version:     1,
		Description: "annotator stats",
		Up: func(tx *sql.Tx, d dialect) error {
			_, err := tx.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS annotator_stats (
    id %s,
    annotator_id TEXT NOT NULL,
    name TEXT NOT NULL,
    language TEXT NOT NULL,
    report_date TEXT NOT NULL,
    files_read INTEGER NOT NULL DEFAULT 0,
    remaining_texts INTEGER NOT NULL DEFAULT 0,
    minutes_recorded DOUBLE PRECISION NOT NULL DEFAULT 0,
    has_started INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    UNIQUE (annotator_id, language, report_date)
);

CREATE INDEX IF NOT EXISTS idx_annotator_stats_language ON annotator_stats(language);
CREATE INDEX IF NOT EXISTS idx_annotator_stats_report_date ON annotator_stats(report_date);
`, d.autoIncrementID()))
			return err
		},
	},
	{
		Version:     2,
		Description: "sync run history",
		Up: func(tx *sql.Tx, d dialect) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    trigger_source TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    record_count INTEGER NOT NULL DEFAULT 0,
    inserted INTEGER NOT NULL DEFAULT 0,
    updated INTEGER NOT NULL DEFAULT 0,
    languages TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
