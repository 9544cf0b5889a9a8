package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/opsdeck/missiond/internal/mission"
)

// NewRunID generates a new ULID-based run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewMissionID generates a new ULID-based mission identifier.
func NewMissionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// SQLiteStore implements MissionStore and RunStore backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const selectMissionCols = `id, name, status, enable, priority, schedule_type,
	interval_minutes, cron_expr, timezone, next_run_at, last_run_at,
	last_run_finished_at, last_run_error, tags, payload, created_at, updated_at`

// PutMission inserts or replaces a mission record.
func (s *SQLiteStore) PutMission(ctx context.Context, rec *mission.Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	var payload sql.NullString
	if rec.Payload != nil {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO missions (
			id, name, status, enable, priority, schedule_type,
			interval_minutes, cron_expr, timezone, next_run_at, last_run_at,
			last_run_finished_at, last_run_error, tags, payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			enable = excluded.enable,
			priority = excluded.priority,
			schedule_type = excluded.schedule_type,
			interval_minutes = excluded.interval_minutes,
			cron_expr = excluded.cron_expr,
			timezone = excluded.timezone,
			next_run_at = excluded.next_run_at,
			last_run_at = excluded.last_run_at,
			last_run_finished_at = excluded.last_run_finished_at,
			last_run_error = excluded.last_run_error,
			tags = excluded.tags,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		rec.ID,
		rec.Name,
		string(rec.Status),
		boolInt(rec.Enable),
		rec.Priority,
		string(rec.Schedule.Type),
		rec.Schedule.IntervalMinutes,
		nullString(rec.Schedule.Cron),
		nullString(rec.Schedule.Timezone),
		formatTimePtr(rec.NextRunAt),
		formatTimePtr(rec.LastRunAt),
		formatTimePtr(rec.LastRunFinishedAt),
		nullString(rec.LastRunError),
		string(tags),
		payload,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) scanMission(row interface{ Scan(...any) error }) (*mission.Record, error) {
	var rec mission.Record
	var status, scheduleType, createdAt, updatedAt string
	var enable int
	var intervalMinutes sql.NullInt64
	var cronExpr, timezone, nextRunAt, lastRunAt, lastRunFinishedAt, lastRunError, tags, payload sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&status,
		&enable,
		&rec.Priority,
		&scheduleType,
		&intervalMinutes,
		&cronExpr,
		&timezone,
		&nextRunAt,
		&lastRunAt,
		&lastRunFinishedAt,
		&lastRunError,
		&tags,
		&payload,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = mission.Status(status)
	rec.Enable = enable != 0
	rec.Schedule.Type = mission.ScheduleType(scheduleType)
	if intervalMinutes.Valid {
		rec.Schedule.IntervalMinutes = int(intervalMinutes.Int64)
	}
	if cronExpr.Valid {
		rec.Schedule.Cron = cronExpr.String
	}
	if timezone.Valid {
		rec.Schedule.Timezone = timezone.String
	}
	if lastRunError.Valid {
		rec.LastRunError = lastRunError.String
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &rec.Payload); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
	}

	if rec.NextRunAt, err = parseTimePtr(nextRunAt); err != nil {
		return nil, fmt.Errorf("parse next_run_at: %w", err)
	}
	if rec.LastRunAt, err = parseTimePtr(lastRunAt); err != nil {
		return nil, fmt.Errorf("parse last_run_at: %w", err)
	}
	if rec.LastRunFinishedAt, err = parseTimePtr(lastRunFinishedAt); err != nil {
		return nil, fmt.Errorf("parse last_run_finished_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &rec, nil
}

// GetMission retrieves a single mission by id. Missing missions return nil.
func (s *SQLiteStore) GetMission(ctx context.Context, id string) (*mission.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectMissionCols+" FROM missions WHERE id = ?", id)
	rec, err := s.scanMission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListMissions returns all missions ordered by creation time.
func (s *SQLiteStore) ListMissions(ctx context.Context) ([]*mission.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectMissionCols+" FROM missions ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missions []*mission.Record
	for rows.Next() {
		rec, err := s.scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, rec)
	}
	return missions, rows.Err()
}

// DeleteMission removes a mission row.
func (s *SQLiteStore) DeleteMission(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM missions WHERE id = ?", id)
	return err
}

// RecordRun inserts or updates a run record.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mission_runs (
			id, mission_id, status, forced, started_at, finished_at,
			duration_ms, error_msg, result_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms,
			error_msg = excluded.error_msg,
			result_json = excluded.result_json`,
		run.ID,
		run.MissionID,
		run.Status,
		boolInt(run.Forced),
		formatTime(run.StartedAt),
		formatTimePtr(run.FinishedAt),
		run.DurationMs,
		nullString(run.ErrorMsg),
		nullString(run.ResultJSON),
		formatTime(run.CreatedAt),
	)
	return err
}

func (s *SQLiteStore) scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var startedAt, createdAt string
	var forced int
	var finishedAt, errorMsg, resultJSON sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&r.ID,
		&r.MissionID,
		&r.Status,
		&forced,
		&startedAt,
		&finishedAt,
		&durationMs,
		&errorMsg,
		&resultJSON,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.Forced = forced != 0
	r.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	r.FinishedAt, err = parseTimePtr(finishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	if durationMs.Valid {
		r.DurationMs = durationMs.Int64
	}
	if errorMsg.Valid {
		r.ErrorMsg = errorMsg.String
	}
	if resultJSON.Valid {
		r.ResultJSON = resultJSON.String
	}

	return &r, nil
}

const selectRunCols = `id, mission_id, status, forced, started_at, finished_at,
	duration_ms, error_msg, result_json, created_at`

// GetRun retrieves a single run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectRunCols+" FROM mission_runs WHERE id = ?", id)
	run, err := s.scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns runs matching the given options, ordered by started_at descending.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error) {
	query := "SELECT " + selectRunCols + " FROM mission_runs"
	var args []any

	if opts.MissionID != "" {
		query += " WHERE mission_id = ?"
		args = append(args, opts.MissionID)
	}
	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetMissionStats returns aggregate run statistics for a mission.
func (s *SQLiteStore) GetMissionStats(ctx context.Context, missionID string) (*MissionStats, error) {
	var stats MissionStats
	var lastRun sql.NullString
	var avgDuration sql.NullFloat64
	var successes, failures sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total_runs,
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END) AS successes,
			SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END) AS failures,
			MAX(started_at) AS last_run,
			AVG(duration_ms) AS avg_duration_ms
		FROM mission_runs
		WHERE mission_id = ?`, missionID).Scan(
		&stats.TotalRuns,
		&successes,
		&failures,
		&lastRun,
		&avgDuration,
	)
	if err != nil {
		return nil, err
	}

	if successes.Valid {
		stats.Successes = int(successes.Int64)
	}
	if failures.Valid {
		stats.Failures = int(failures.Int64)
	}
	if lastRun.Valid {
		t, err := parseTime(lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_run: %w", err)
		}
		stats.LastRun = &t
	}
	if avgDuration.Valid {
		stats.AvgDurationMs = avgDuration.Float64
	}

	return &stats, nil
}
