package scheduler

import (
	"database/sql"
	"fmt"
	"time"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                   TEXT PRIMARY KEY,
	schedule             TEXT NOT NULL,
	task                 TEXT NOT NULL,
	enabled              INTEGER NOT NULL DEFAULT 1,
	last_run_at          TEXT,
	last_error           TEXT NOT NULL DEFAULT '',
	last_run_duration_ms INTEGER NOT NULL DEFAULT 0,
	run_count            INTEGER NOT NULL DEFAULT 0
)`

// SQLiteJobStorage keeps job state in the "jobs" table of a shared database.
type SQLiteJobStorage struct {
	db *sql.DB
}

// NewSQLiteJobStorage creates the jobs table if needed.
func NewSQLiteJobStorage(db *sql.DB) (*SQLiteJobStorage, error) {
	if _, err := db.Exec(jobsSchema); err != nil {
		return nil, fmt.Errorf("create jobs table: %w", err)
	}
	return &SQLiteJobStorage{db: db}, nil
}

// Save inserts or replaces a job.
func (s *SQLiteJobStorage) Save(job *Job) error {
	var lastRunAt sql.NullString
	if job.LastRunAt != nil {
		lastRunAt = sql.NullString{String: job.LastRunAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO jobs
			(id, schedule, task, enabled, last_run_at, last_error, last_run_duration_ms, run_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Schedule,
		job.Task,
		boolToInt(job.Enabled),
		lastRunAt,
		job.LastError,
		job.LastRunDuration.Milliseconds(),
		job.RunCount,
	)
	if err != nil {
		return fmt.Errorf("save job %q: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job by ID.
func (s *SQLiteJobStorage) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	return nil
}

// LoadAll reads all persisted jobs.
func (s *SQLiteJobStorage) LoadAll() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT id, schedule, task, enabled, last_run_at, last_error, last_run_duration_ms, run_count
		FROM jobs
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var (
			j          Job
			enabled    int
			lastRunAt  sql.NullString
			durationMs int64
		)
		if err := rows.Scan(
			&j.ID, &j.Schedule, &j.Task, &enabled,
			&lastRunAt, &j.LastError, &durationMs, &j.RunCount,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		j.Enabled = enabled != 0
		j.LastRunDuration = time.Duration(durationMs) * time.Millisecond
		if lastRunAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, lastRunAt.String)
			j.LastRunAt = &t
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
