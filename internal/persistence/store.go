// Package persistence is the run journal: a sqlite record of every task run
// and the output it produced, kept under the project's state directory.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lithammer/shortuuid/v4"
	_ "modernc.org/sqlite"
)

// DefaultFileName is the journal database inside the project state directory.
const DefaultFileName = "journal.db"

// RunStatusRunning is stored for a run that has not finished.
const RunStatusRunning = "running"

// Run is one execution of one task.
type Run struct {
	ID         string
	Episode    string
	Kind       string
	Command    string
	Status     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Lines      int
}

// Duration is the run's wall time, zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Episode string
	Kind    string
	Limit   int
}

// Store defines the journal operations.
type Store interface {
	RunStarted(ctx context.Context, runID, episode, kind, command string, started time.Time) error
	RunFinished(ctx context.Context, runID, status string, exitCode int, finished time.Time) error
	AppendOutput(ctx context.Context, runID string, lines []string) error

	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	Output(ctx context.Context, runID string, tail int) ([]string, error)
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the journal at dbPath, creating parent directories
// and schema as needed. WAL mode and a busy timeout keep the poller's writes
// from blocking readers such as the history command.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Note: modernc.org/sqlite doesn't support _foreign_keys in connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory store for testing. Each call gets its
// own database, shared by that store's connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:journal-%s?mode=memory&cache=shared", shortuuid.New())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
