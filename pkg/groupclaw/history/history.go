// Package history records batch runs in a SQLite database so past outcomes
// can be listed after the process exits.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jholhewres/groupclaw/pkg/groupclaw/agent"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	task        TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_items (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	group_name TEXT NOT NULL,
	step       TEXT NOT NULL,
	state      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	messages   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_run_items_run ON run_items(run_id, position);
`

// Store is the run history database. It implements agent.Recorder.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	// One writer; the scheduler shares this handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
		schemaVersion, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

// DB exposes the handle for other tables kept in the same file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Begin records a run that has just started.
func (s *Store) Begin(ctx context.Context, run *agent.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Task), formatTime(run.StartedAt), string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish stores the final status and the per-group items of run. A run
// that was never begun is inserted.
func (s *Store) Finish(ctx context.Context, run *agent.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, task, started_at, finished_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status      = excluded.status,
			error       = excluded.error`,
		run.ID, string(run.Task), formatTime(run.StartedAt),
		formatTime(run.FinishedAt), string(run.Status), run.Error,
	); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_items WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear run items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_items (run_id, position, group_name, step, state, detail, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare run items: %w", err)
	}
	defer stmt.Close()

	for i, it := range run.Items {
		if _, err := stmt.ExecContext(ctx, run.ID, i, it.Group, it.Step, string(it.State), it.Detail, it.Messages); err != nil {
			return fmt.Errorf("insert run item %q: %w", it.Group, err)
		}
	}
	return tx.Commit()
}

// Summary is one row of the run list.
type Summary struct {
	ID         string
	Task       agent.Task
	StartedAt  time.Time
	FinishedAt time.Time
	Status     agent.RunStatus
	Error      string
	Items      int
	Failed     int
}

// Duration is zero for runs that have not finished.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Recent lists the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.task, r.started_at, COALESCE(r.finished_at, ''), r.status, r.error,
		       COUNT(i.id),
		       COALESCE(SUM(CASE WHEN i.state = ? THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN run_items i ON i.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, string(agent.StateFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum               Summary
			task, status      string
			started, finished string
		)
		if err := rows.Scan(&sum.ID, &task, &started, &finished, &status, &sum.Error, &sum.Items, &sum.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.Task = agent.Task(task)
		sum.Status = agent.RunStatus(status)
		sum.StartedAt = parseTime(started)
		sum.FinishedAt = parseTime(finished)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Items returns the per-group items of a run in their original order.
func (s *Store) Items(ctx context.Context, runID string) ([]agent.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_name, step, state, detail, messages
		FROM run_items
		WHERE run_id = ?
		ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("load run items: %w", err)
	}
	defer rows.Close()

	var items []agent.Item
	for rows.Next() {
		var (
			it    agent.Item
			state string
		)
		if err := rows.Scan(&it.Group, &it.Step, &state, &it.Detail, &it.Messages); err != nil {
			return nil, fmt.Errorf("scan run item: %w", err)
		}
		it.State = agent.State(state)
		items = append(items, it)
	}
	return items, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
