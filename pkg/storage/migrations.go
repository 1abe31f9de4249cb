package storage

import (
	"database/sql"
	"fmt"

	"github.com/cuemby/burrow/pkg/log"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "0001_init",
		sql: `
CREATE TABLE projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    path TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE environments (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('preparing', 'pool', 'in_use', 'removing')),
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE tasks (
    id TEXT PRIMARY KEY,
    environment_id TEXT REFERENCES environments(id),
    project_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    description TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'started', 'complete', 'failed')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE jobs (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'complete', 'failed')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`,
	},
	{
		version: 2,
		name:    "0002_environment_failed_status",
		sql: `
CREATE TABLE environments_new (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('preparing', 'pool', 'in_use', 'removing', 'failed')),
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

INSERT INTO environments_new SELECT id, project_id, provider, status, metadata, created_at, updated_at FROM environments;
DROP TABLE environments;
ALTER TABLE environments_new RENAME TO environments;
`,
	},
	{
		version: 3,
		name:    "0003_task_environment_not_null",
		sql: `
CREATE TABLE tasks_new (
    id TEXT PRIMARY KEY,
    environment_id TEXT NOT NULL REFERENCES environments(id),
    project_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    description TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'started', 'complete', 'failed')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

INSERT INTO tasks_new SELECT id, environment_id, project_id, provider, description, status, created_at, updated_at FROM tasks WHERE environment_id IS NOT NULL;
DROP TABLE tasks;
ALTER TABLE tasks_new RENAME TO tasks;
`,
	},
	{
		version: 4,
		name:    "0004_jobs_queue_metadata",
		sql: `
ALTER TABLE jobs ADD COLUMN attempt INTEGER NOT NULL DEFAULT 0;
ALTER TABLE jobs ADD COLUMN dedupe_key TEXT;
ALTER TABLE jobs ADD COLUMN not_before TEXT;
ALTER TABLE jobs ADD COLUMN lease_expires_at TEXT;
ALTER TABLE jobs ADD COLUMN last_error TEXT;

CREATE UNIQUE INDEX idx_jobs_active_dedupe ON jobs (dedupe_key)
    WHERE dedupe_key IS NOT NULL AND status IN ('pending', 'running');
CREATE INDEX idx_jobs_claim ON jobs (status, created_at);
`,
	},
}

// runMigrations applies pending migrations in version order. Each migration
// commits together with its ledger row.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		log.Logger.Debug().Str("name", m.name).Msg("applying migration")

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.version, m.name, nowTimestamp(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s ledger insert failed: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s commit failed: %w", m.name, err)
		}
	}

	return nil
}
