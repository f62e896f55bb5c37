package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

const writeTimeout = 5 * time.Second

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms sql.NullInt64) time.Time {
	if !ms.Valid {
		return time.Time{}
	}
	return time.UnixMilli(ms.Int64)
}

// RunStarted records a new run. Recording the same id twice updates it.
func (s *SQLiteStore) RunStarted(ctx context.Context, runID, episode, kind, command string, started time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, episode, kind, command, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			episode = excluded.episode,
			kind = excluded.kind,
			command = excluded.command,
			status = excluded.status,
			started_at = excluded.started_at
	`, runID, episode, kind, command, RunStatusRunning, toMillis(started))
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RunFinished records the terminal status of a run.
func (s *SQLiteStore) RunFinished(ctx context.Context, runID, status string, exitCode int, finished time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, exit_code = ?, finished_at = ? WHERE id = ?
	`, status, exitCode, toMillis(finished), runID)
	if err != nil {
		return fmt.Errorf("failed to record run end: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return nil
}

// AppendOutput stores a batch of output lines in one transaction.
func (s *SQLiteStore) AppendOutput(ctx context.Context, runID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_output (run_id, line) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare output insert: %w", err)
	}
	defer stmt.Close()

	for _, line := range lines {
		if _, err := stmt.ExecContext(ctx, runID, line); err != nil {
			return fmt.Errorf("failed to insert output line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const runColumns = `
	r.id, r.episode, r.kind, r.command, r.status, r.exit_code, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM run_output o WHERE o.run_id = r.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		exitCode sql.NullInt64
		started  sql.NullInt64
		finished sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Episode, &r.Kind, &r.Command, &r.Status, &exitCode, &started, &finished, &r.Lines); err != nil {
		return Run{}, err
	}
	r.ExitCode = int(exitCode.Int64)
	r.StartedAt = fromMillis(started)
	r.FinishedAt = fromMillis(finished)
	return r, nil
}

// GetRun returns one run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.Episode != "" {
		where = append(where, "r.episode = ?")
		args = append(args, filter.Episode)
	}
	if filter.Kind != "" {
		where = append(where, "r.kind = ?")
		args = append(args, filter.Kind)
	}

	query := `SELECT ` + runColumns + ` FROM runs r`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.started_at DESC, r.rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Output returns a run's lines in order. A positive tail keeps only the last
// tail lines.
func (s *SQLiteStore) Output(ctx context.Context, runID string, tail int) ([]string, error) {
	query := `SELECT line FROM run_output WHERE run_id = ? ORDER BY id`
	args := []any{runID}
	if tail > 0 {
		query = `SELECT line FROM (
			SELECT id, line FROM run_output WHERE run_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`
		args = append(args, tail)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query output: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan output line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating output: %w", err)
	}
	return lines, nil
}

// Prune deletes finished runs that started before the cutoff, with their
// output. It returns the number of runs removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := toMillis(before)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM run_output WHERE run_id IN (
			SELECT id FROM runs WHERE started_at < ? AND finished_at IS NOT NULL
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune output: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ? AND finished_at IS NOT NULL`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}
