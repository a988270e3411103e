package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dockfleet/pkg/domains"

	_ "github.com/mattn/go-sqlite3"
)

// Local task states. queued and running mirror the controller; done is any reported outcome.
const (
	LocalQueued  = "queued"
	LocalRunning = "running"
	LocalDone    = "done"
)

// Store is the agent's SQLite journal of received tasks and unsent results
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the SQLite database at dbPath
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under the worker pool
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks_local (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT UNIQUE NOT NULL,
			task_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'queued',
			error_msg TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_local_status ON tasks_local(status, id)`,
		`CREATE TABLE IF NOT EXISTS results_outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error_msg TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_due ON results_outbox(next_attempt_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LocalTask is a task as journaled by the agent
type LocalTask struct {
	ID       int64
	TaskID   string
	Type     domains.TaskType
	Payload  string
	Status   string
	ErrorMsg *string
}

// Task rebuilds the typed task from the journal row
func (t *LocalTask) Task(agentID string) (*domains.Task, error) {
	payload, err := domains.DecodePayload(t.Type, []byte(t.Payload))
	if err != nil {
		return nil, err
	}
	return &domains.Task{
		ID:      t.TaskID,
		AgentID: agentID,
		Type:    t.Type,
		Payload: payload,
		Status:  domains.TaskPending,
	}, nil
}

// SaveTask journals a received task. A task seen before is ignored and reported as not inserted.
func (s *Store) SaveTask(ctx context.Context, task *domains.Task, now time.Time) (bool, error) {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO tasks_local (task_id, task_type, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(task_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, task.ID, string(task.Type), string(payload), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to save task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// QueuedTasks returns up to limit queued tasks in arrival order
func (s *Store) QueuedTasks(ctx context.Context, limit int) ([]LocalTask, error) {
	return s.tasksByStatus(ctx, LocalQueued, limit)
}

// InterruptedTasks returns tasks that were running when the agent last stopped
func (s *Store) InterruptedTasks(ctx context.Context) ([]LocalTask, error) {
	return s.tasksByStatus(ctx, LocalRunning, -1)
}

func (s *Store) tasksByStatus(ctx context.Context, status string, limit int) ([]LocalTask, error) {
	query := `
		SELECT id, task_id, task_type, payload, status, error_msg
		FROM tasks_local
		WHERE status = ?
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []LocalTask
	for rows.Next() {
		var t LocalTask
		var taskType string
		if err := rows.Scan(&t.ID, &t.TaskID, &taskType, &t.Payload, &t.Status, &t.ErrorMsg); err != nil {
			return nil, err
		}
		t.Type = domains.TaskType(taskType)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ClaimTask moves a queued task to running. It returns false when another worker already claimed it.
func (s *Store) ClaimTask(ctx context.Context, taskID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks_local SET status = 'running', updated_at = ? WHERE task_id = ? AND status = 'queued'`,
		now.UnixMilli(), taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishTask marks a task done with an optional error message
func (s *Store) FinishTask(ctx context.Context, taskID string, errorMsg *string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks_local SET status = 'done', error_msg = ?, updated_at = ? WHERE task_id = ?`,
		errorMsg, now.UnixMilli(), taskID)
	return err
}

// CleanupFinishedTasks deletes done tasks last updated before cutoff
func (s *Store) CleanupFinishedTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks_local WHERE status = 'done' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OutboxEntry is a terminal result waiting to be acknowledged by the controller
type OutboxEntry struct {
	ID            int64
	TaskID        string
	Status        domains.TaskStatus
	Result        json.RawMessage
	ErrorMsg      *string
	Attempts      int
	NextAttemptAt time.Time
}

// EnqueueResult stores a result for delivery. Only the first result per task is kept.
func (s *Store) EnqueueResult(ctx context.Context, taskID string, status domains.TaskStatus, result interface{}, errorMsg *string, now time.Time) error {
	var encoded *string
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		str := string(b)
		encoded = &str
	}

	query := `
		INSERT INTO results_outbox (task_id, status, result, error_msg, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(task_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, taskID, string(status), encoded, errorMsg, now.UnixMilli(), now.UnixMilli())
	return err
}

// DueResults returns up to limit outbox entries whose next attempt is at or before now, oldest first
func (s *Store) DueResults(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT id, task_id, status, result, error_msg, attempts, next_attempt_at
		FROM results_outbox
		WHERE next_attempt_at <= ?
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var status string
		var result *string
		var next int64
		if err := rows.Scan(&e.ID, &e.TaskID, &status, &result, &e.ErrorMsg, &e.Attempts, &next); err != nil {
			return nil, err
		}
		e.Status = domains.TaskStatus(status)
		if result != nil {
			e.Result = json.RawMessage(*result)
		}
		e.NextAttemptAt = time.UnixMilli(next)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteResult removes an acknowledged or abandoned entry
func (s *Store) DeleteResult(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM results_outbox WHERE id = ?`, id)
	return err
}

// ScheduleRetry records a failed attempt and the time of the next one
func (s *Store) ScheduleRetry(ctx context.Context, id int64, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE results_outbox SET attempts = attempts + 1, next_attempt_at = ? WHERE id = ?`,
		next.UnixMilli(), id)
	return err
}

// PendingResults counts undelivered results
func (s *Store) PendingResults(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results_outbox`).Scan(&n)
	return n, err
}
