package store

import "database/sql"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS missions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    enable INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    schedule_type TEXT NOT NULL,
    interval_minutes INTEGER,
    cron_expr TEXT,
    timezone TEXT,
    next_run_at TEXT,
    last_run_at TEXT,
    last_run_finished_at TEXT,
    last_run_error TEXT,
    tags TEXT,
    payload TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_missions_next_run_at ON missions(next_run_at);

CREATE TABLE IF NOT EXISTS mission_runs (
    id TEXT PRIMARY KEY,
    mission_id TEXT NOT NULL,
    status TEXT NOT NULL,
    forced INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    duration_ms INTEGER,
    error_msg TEXT,
    result_json TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_mission_runs_mission_id ON mission_runs(mission_id);
CREATE INDEX IF NOT EXISTS idx_mission_runs_started_at ON mission_runs(started_at);
`

// RunMigrations applies the database schema migrations.
func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(migrationSQL)
	return err
}
