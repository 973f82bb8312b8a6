package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one schema step.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all schema migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with sessions, activations and suppressions",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
}

const migrationV1Up = `
-- Daemon runs
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    hostname    TEXT,
    version     TEXT
);

-- Layer activation intervals
CREATE TABLE IF NOT EXISTS activations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session         TEXT NOT NULL REFERENCES sessions(id),
    device          TEXT NOT NULL,
    layer           INTEGER NOT NULL,
    activated_at    INTEGER NOT NULL,
    deactivated_at  INTEGER,
    cause           TEXT
);

CREATE INDEX IF NOT EXISTS idx_activations_time ON activations(activated_at);
CREATE INDEX IF NOT EXISTS idx_activations_layer ON activations(layer, activated_at);
CREATE INDEX IF NOT EXISTS idx_activations_open ON activations(session) WHERE deactivated_at IS NULL;

-- Blocked activation attempts, one counter row per streak key
CREATE TABLE IF NOT EXISTS suppressions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session     TEXT NOT NULL REFERENCES sessions(id),
    device      TEXT NOT NULL,
    layer       INTEGER NOT NULL,
    reason      TEXT NOT NULL,
    count       INTEGER NOT NULL DEFAULT 1,
    first_at    INTEGER NOT NULL,
    last_at     INTEGER NOT NULL,
    UNIQUE (session, device, layer, reason)
);

CREATE INDEX IF NOT EXISTS idx_suppressions_time ON suppressions(last_at);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_suppressions_time;
DROP TABLE IF EXISTS suppressions;
DROP INDEX IF EXISTS idx_activations_open;
DROP INDEX IF EXISTS idx_activations_layer;
DROP INDEX IF EXISTS idx_activations_time;
DROP TABLE IF EXISTS activations;
DROP TABLE IF EXISTS sessions;
`

// MigrateDB applies all pending migrations to the database.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the applied schema version.
func SchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{
		"sessions",
		"activations",
		"suppressions",
		"schema_migrations",
	}

	for _, table := range requiredTables {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}

	return nil
}
