package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: task_runs, type_stats, decision_history, solutions",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add goal_id column to task_runs",
		SQL:         migration002SQL,
	},
	{
		Version:     3,
		Description: "add cancel_requests control table",
		SQL:         migration003SQL,
	},
}

const migration001SQL = `
CREATE TABLE task_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id     TEXT NOT NULL,
    task_type   TEXT NOT NULL,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL,
    success     INTEGER NOT NULL,
    error       TEXT
);

CREATE TABLE type_stats (
    task_type    TEXT PRIMARY KEY,
    success_rate REAL NOT NULL,
    run_count    INTEGER NOT NULL DEFAULT 0,
    total_ms     INTEGER NOT NULL DEFAULT 0,
    updated_at   DATETIME NOT NULL
);

CREATE TABLE decision_history (
    id         TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL,
    context    TEXT NOT NULL,
    options    TEXT NOT NULL,
    chosen     TEXT NOT NULL,
    confidence REAL NOT NULL,
    reasoning  TEXT NOT NULL
);

CREATE TABLE solutions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    problem       TEXT NOT NULL,
    solution      TEXT NOT NULL,
    effectiveness REAL NOT NULL,
    created_at    DATETIME NOT NULL
);

CREATE INDEX idx_task_runs_type_time ON task_runs(task_type, started_at DESC);
CREATE INDEX idx_decision_history_time ON decision_history(created_at DESC);
CREATE INDEX idx_solutions_problem ON solutions(problem);
`

const migration002SQL = `
ALTER TABLE task_runs ADD COLUMN goal_id TEXT NOT NULL DEFAULT '';
`

const migration003SQL = `
CREATE TABLE cancel_requests (
    task_id    TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL
);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.Printf("db: applied migration %d: %s", migration.Version, migration.Description)
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
