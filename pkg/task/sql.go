// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on top of database/sql.
// Optimistic concurrency uses the version column: updates only apply when
// the stored version matches the caller's copy.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// taskRow represents a database row for a Task.
type taskRow struct {
	ID           string
	ContextID    string
	State        string
	StatusJSON   string
	HistoryJSON  string
	ArtifactJSON sql.NullString
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS stratus_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    state VARCHAR(32) NOT NULL,
    status_json TEXT NOT NULL,
    history_json TEXT NOT NULL,
    artifact_json TEXT,
    version BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

	// MySQL has no CREATE INDEX IF NOT EXISTS, so its indexes live in the table definition.
	createTasksTableMySQL = `
CREATE TABLE IF NOT EXISTS stratus_tasks (
    id VARCHAR(255) PRIMARY KEY,
    context_id VARCHAR(255) NOT NULL,
    state VARCHAR(32) NOT NULL,
    status_json TEXT NOT NULL,
    history_json MEDIUMTEXT NOT NULL,
    artifact_json MEDIUMTEXT,
    version BIGINT NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL,
    open_context_id VARCHAR(255) AS (IF(state IN ('completed', 'failed'), NULL, context_id)) STORED,
    INDEX idx_stratus_tasks_context_state (context_id, state),
    INDEX idx_stratus_tasks_updated_at (updated_at),
    UNIQUE INDEX idx_stratus_tasks_open_context (open_context_id)
)`

	createTasksContextIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_stratus_tasks_context_state ON stratus_tasks(context_id, state)`

	// At most one open task per context.
	createTasksOpenContextIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_stratus_tasks_open_context ON stratus_tasks(context_id)
WHERE state NOT IN ('completed', 'failed')`

	createTasksUpdatedAtIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_stratus_tasks_updated_at ON stratus_tasks(updated_at)`

	taskColumns = `id, context_id, state, status_json, history_json, artifact_json, version, created_at, updated_at`
)

// NewSQLStore creates a SQL-backed Store.
// The db connection should be shared with other components using the same
// database to prevent SQLite "database is locked" errors.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	normalized := dialect
	if dialect == "sqlite3" {
		normalized = "sqlite"
	}

	switch normalized {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{
		db:      db,
		dialect: normalized,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.dialect == "mysql" {
		if _, err := s.db.ExecContext(ctx, createTasksTableMySQL); err != nil {
			return fmt.Errorf("failed to create stratus_tasks table: %w", err)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx, createTasksTableSQL); err != nil {
		return fmt.Errorf("failed to create stratus_tasks table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTasksContextIndexSQL); err != nil {
		return fmt.Errorf("failed to create context index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTasksOpenContextIndexSQL); err != nil {
		return fmt.Errorf("failed to create open context index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTasksUpdatedAtIndexSQL); err != nil {
		return fmt.Errorf("failed to create updated_at index: %w", err)
	}
	return nil
}

// GetOrCreate returns the open task for the context or creates one.
// Concurrent creators race on the open-context unique index; the losers
// return the winner's task.
func (s *SQLStore) GetOrCreate(ctx context.Context, contextID string, msg Message, opts ...CreateOption) (*Task, bool, error) {
	t, created, err := s.getOrCreate(ctx, contextID, msg, opts...)
	if err == nil || errors.Is(err, ErrConflict) {
		return t, created, err
	}

	existing, lookupErr := s.openTask(ctx, s.db, contextID)
	if lookupErr != nil {
		return nil, false, err
	}
	slog.Debug("TaskStore.GetOrCreate: lost create race", "task_id", existing.ID, "context_id", contextID)
	return existing, false, nil
}

func (s *SQLStore) getOrCreate(ctx context.Context, contextID string, msg Message, opts ...CreateOption) (*Task, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.openTask(ctx, tx, contextID)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", err)
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	o := applyCreateOptions(opts)
	if o.taskID != "" {
		var one int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM stratus_tasks WHERE id = ?`), o.taskID).Scan(&one)
		if err == nil {
			return nil, false, ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to check task id: %w", err)
		}
	}

	t := New(o.taskID, contextID, msg)
	t.Version = 1

	newRow, err := taskToRow(t)
	if err != nil {
		return nil, false, fmt.Errorf("failed to serialize task: %w", err)
	}

	insert := s.rebind(`INSERT INTO stratus_tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert,
		newRow.ID, newRow.ContextID, newRow.State, newRow.StatusJSON, newRow.HistoryJSON,
		newRow.ArtifactJSON, newRow.Version, newRow.CreatedAt, newRow.UpdatedAt,
	); err != nil {
		return nil, false, fmt.Errorf("failed to insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	slog.Debug("TaskStore.GetOrCreate: created task", "task_id", t.ID, "context_id", contextID)
	return t.Clone(), true, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// openTask returns the newest open task of a context, or ErrNotFound.
func (s *SQLStore) openTask(ctx context.Context, q rowQueryer, contextID string) (*Task, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM stratus_tasks
WHERE context_id = ? AND state NOT IN (?, ?)
ORDER BY created_at DESC LIMIT 1`)

	var row taskRow
	err := scanRow(q.QueryRowContext(ctx, query, contextID, string(StateCompleted), string(StateFailed)), &row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open task: %w", err)
	}
	return rowToTask(&row)
}

// Get retrieves a task by ID.
func (s *SQLStore) Get(ctx context.Context, taskID string) (*Task, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM stratus_tasks WHERE id = ?`)

	var row taskRow
	err := scanRow(s.db.QueryRowContext(ctx, query, taskID), &row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return rowToTask(&row)
}

// overwriteAttempts bounds the retries of an unconditional update that
// keeps losing to concurrent writers.
const overwriteAttempts = 5

// Update saves task changes with a version check. On success task.Version
// is the version the row was written with.
func (s *SQLStore) Update(ctx context.Context, task *Task, opts ...UpdateOption) error {
	o := applyUpdateOptions(opts)

	row, err := taskToRow(task)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	if !o.overwrite {
		if err := s.compareAndSwap(ctx, row, task.Version); err != nil {
			return err
		}
		task.Version++
		return nil
	}

	// An overwrite is a compare-and-swap against whatever version is stored.
	for range overwriteAttempts {
		var current int64
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT version FROM stratus_tasks WHERE id = ?`), task.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read task version: %w", err)
		}

		err = s.compareAndSwap(ctx, row, current)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		task.Version = current + 1
		return nil
	}
	return ErrConflict
}

// compareAndSwap writes row when the stored version equals expected and
// bumps the stored version by one.
func (s *SQLStore) compareAndSwap(ctx context.Context, row *taskRow, expected int64) error {
	query := s.rebind(`UPDATE stratus_tasks
SET state = ?, status_json = ?, history_json = ?, artifact_json = ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ?`)

	res, err := s.db.ExecContext(ctx, query,
		row.State, row.StatusJSON, row.HistoryJSON, row.ArtifactJSON, row.UpdatedAt, row.ID, expected)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, row.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// Sweep deletes terminal tasks last updated before the cutoff.
func (s *SQLStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	query := s.rebind(`DELETE FROM stratus_tasks WHERE state IN (?, ?) AND updated_at < ?`)
	res, err := s.db.ExecContext(ctx, query, string(StateCompleted), string(StateFailed), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// Close is a no-op: the connection pool is owned by whoever opened it.
func (s *SQLStore) Close() error {
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func scanRow(r *sql.Row, row *taskRow) error {
	return r.Scan(
		&row.ID, &row.ContextID, &row.State, &row.StatusJSON, &row.HistoryJSON,
		&row.ArtifactJSON, &row.Version, &row.CreatedAt, &row.UpdatedAt,
	)
}

func taskToRow(t *Task) (*taskRow, error) {
	statusJSON, err := json.Marshal(t.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}

	history := t.History
	if history == nil {
		history = []Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}

	var artifactJSON sql.NullString
	if t.Artifact != nil {
		b, err := json.Marshal(t.Artifact)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal artifact: %w", err)
		}
		artifactJSON = sql.NullString{String: string(b), Valid: true}
	}

	return &taskRow{
		ID:           t.ID,
		ContextID:    t.ContextID,
		State:        string(t.Status.State),
		StatusJSON:   string(statusJSON),
		HistoryJSON:  string(historyJSON),
		ArtifactJSON: artifactJSON,
		Version:      t.Version,
		CreatedAt:    t.CreatedAt.UTC(),
		UpdatedAt:    t.UpdatedAt.UTC(),
	}, nil
}

func rowToTask(row *taskRow) (*Task, error) {
	t := &Task{
		ID:        row.ID,
		ContextID: row.ContextID,
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	if err := json.Unmarshal([]byte(row.StatusJSON), &t.Status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	if err := json.Unmarshal([]byte(row.HistoryJSON), &t.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if row.ArtifactJSON.Valid && row.ArtifactJSON.String != "" {
		var a Artifact
		if err := json.Unmarshal([]byte(row.ArtifactJSON.String), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
		}
		t.Artifact = &a
	}
	return t, nil
}

var _ Store = (*SQLStore)(nil)
