package database

import (
	"database/sql"
	"fmt"
	"log"
)

// getSchemaVersion reads the applied schema version. SQLite keeps it in
// PRAGMA user_version, Postgres in a schema_version table.
func getSchemaVersion(conn *sql.DB, d dialect) (int, error) {
	var version int
	if d == dialectPostgres {
		if _, err := conn.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
			return 0, fmt.Errorf("creating schema_version: %w", err)
		}
		if err := conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("reading schema version: %w", err)
		}
		return version, nil
	}
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(conn *sql.DB, d dialect, version int) error {
	var err error
	if d == dialectPostgres {
		_, err = conn.Exec("INSERT INTO schema_version (version) VALUES ($1)", version)
	} else {
		// PRAGMA does not accept bound parameters.
		_, err = conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	}
	if err != nil {
		return fmt.Errorf("setting version %d: %w", version, err)
	}
	return nil
}

// isLegacyDB returns true if an annotator_stats table exists without a
// recorded version. Such databases were created before the migration system
// and already match migration 1.
func isLegacyDB(conn *sql.DB, d dialect) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='annotator_stats'"
	if d == dialectPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'annotator_stats'"
	}
	var count int
	if err := conn.QueryRow(query).Scan(&count); err != nil {
		return false, fmt.Errorf("checking for legacy tables: %w", err)
	}
	return count > 0, nil
}

// migrate brings the database schema up to the latest version.
func migrate(conn *sql.DB, d dialect) error {
	current, err := getSchemaVersion(conn, d)
	if err != nil {
		return err
	}

	if current == 0 {
		legacy, err := isLegacyDB(conn, d)
		if err != nil {
			return err
		}
		if legacy {
			log.Printf("detected legacy database, stamping as version 1")
			if err := setSchemaVersion(conn, d, 1); err != nil {
				return fmt.Errorf("stamping legacy version: %w", err)
			}
			current = 1
		}
	}

	latest := latestVersion()
	if current >= latest {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		log.Printf("applying migration %d: %s", m.Version, m.Description)

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx, d); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// Set user_version outside the transaction (modernc/sqlite requirement).
		// Safe: if we crash here, the idempotent DDL lets the migration re-run.
		if err := setSchemaVersion(conn, d, m.Version); err != nil {
			return err
		}
	}

	return nil
}
