// Package insights persists per-subtask execution records to SQLite. The
// store is fed by the work iterator's asynchronous insight side task and
// queried by the history CLI; no insights operation is ever allowed to
// fail a build.
package insights

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Execution is one recorded subtask execution.
type Execution struct {
	ID          int64
	BuildID     string
	SubtaskID   string
	Description string
	Outcome     string
	FailureType string
	Attempt     int
	DurationSecs int64
	Insight     string
	CreatedAt   time.Time
}

// Store manages the SQLite insights database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates the store, initializing the schema. The parent directory
// is created for file-backed databases; ":memory:" is accepted for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so subsequent statements wait on locks instead
	// of failing.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one execution record.
func (s *Store) Record(ctx context.Context, exec *Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtask_executions
			(build_id, subtask_id, description, outcome, failure_type, attempt, duration_secs, insight)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.BuildID, exec.SubtaskID, exec.Description, exec.Outcome,
		exec.FailureType, exec.Attempt, exec.DurationSecs, exec.Insight)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// ForBuild returns the most recent executions for a build, newest first.
func (s *Store) ForBuild(ctx context.Context, buildID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, subtask_id, description, outcome, failure_type,
		       attempt, duration_secs, insight, created_at
		FROM subtask_executions
		WHERE build_id = ?
		ORDER BY id DESC
		LIMIT ?`, buildID, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// Recent returns the most recent executions across all builds.
func (s *Store) Recent(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, subtask_id, description, outcome, failure_type,
		       attempt, duration_secs, insight, created_at
		FROM subtask_executions
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]Execution, error) {
	var out []Execution
	for rows.Next() {
		var e Execution
		var failure, insight, description sql.NullString
		if err := rows.Scan(&e.ID, &e.BuildID, &e.SubtaskID, &description,
			&e.Outcome, &failure, &e.Attempt, &e.DurationSecs, &insight, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Description = description.String
		e.FailureType = failure.String
		e.Insight = insight.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}
