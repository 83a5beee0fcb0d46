// Package history journals task lifecycle events into SQLite. The
// journal is an audit log fed from the event bus; the scheduler never
// reads it back, so a restart starts from an empty registry as designed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one journaled task event.
type Entry struct {
	ID         int64
	TaskID     uuid.UUID
	Kind       string
	Event      string // "started", "completed", "failed"
	Error      string
	DurationMS int64
	RecordedAt time.Time
}

// RunSummary is one journaled run outcome.
type RunSummary struct {
	ID         int64
	Completed  int
	Failed     int
	Blocked    int
	Stalled    bool
	RecordedAt time.Time
}

// Store is a SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the journal at path. Parent directories
// are created as needed; WAL mode keeps readers from blocking the writer.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory journal for testing.
func NewMemoryStore(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		event TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		completed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		blocked INTEGER NOT NULL,
		stalled INTEGER NOT NULL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// RecordTaskEvent appends one task event to the journal.
func (s *Store) RecordTaskEvent(ctx context.Context, taskID uuid.UUID, kind, event, errText string, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, kind, event, error, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`, taskID.String(), kind, event, errText, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("recording task event: %w", err)
	}
	return nil
}

// RecordRun appends one run outcome to the journal.
func (s *Store) RecordRun(ctx context.Context, completed, failed, blocked int, stalled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (completed, failed, blocked, stalled)
		VALUES (?, ?, ?, ?)
	`, completed, failed, blocked, boolToInt(stalled))
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// TaskEvents returns all journaled events for a task, oldest first.
func (s *Store) TaskEvents(ctx context.Context, taskID uuid.UUID) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, kind, event, error, duration_ms, recorded_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY id
	`, taskID.String())
	if err != nil {
		return nil, fmt.Errorf("querying task events: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// RecentEvents returns the newest events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, kind, event, error, duration_ms, recorded_at
		FROM task_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Runs returns all journaled run outcomes, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, completed, failed, blocked, stalled, recorded_at
		FROM runs
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var stalled int
		if err := rows.Scan(&run.ID, &run.Completed, &run.Failed, &run.Blocked, &stalled, &run.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		run.Stalled = stalled != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var taskID string
		if err := rows.Scan(&entry.ID, &taskID, &entry.Kind, &entry.Event, &entry.Error, &entry.DurationMS, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning task event: %w", err)
		}
		parsed, err := uuid.Parse(taskID)
		if err != nil {
			return nil, fmt.Errorf("parsing task id %q: %w", taskID, err)
		}
		entry.TaskID = parsed
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
