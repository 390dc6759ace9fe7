// Package history keeps a SQLite record of past runs and their failed tasks
// so that `wind history` can show what happened after the terminal closed.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/windsync/wind/internal/transfer"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("history: run not found")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one recorded invocation.
type Run struct {
	ID      string
	Command string
	Source  string
	Dest    string
	Summary transfer.Summary
}

// Store is the run history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	newID  func() string
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, logger: logger, newID: uuid.NewString}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: migration filesystem: %w", err)
	}

	p, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("history: creating migration provider: %w", err)
	}

	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("history: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores run and its failures in one transaction. An empty ID is
// filled with a new UUID; the stored ID is returned.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = s.newID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("history: begin: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	sum := run.Summary

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
			id, command, source, dest, dry_run, started_at, finished_at,
			planned, transferred, verified, mismatched, failed, skipped,
			not_attempted, sources_deleted, excluded, bytes, stopped, fatal_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Command, run.Source, run.Dest, sum.DryRun,
		sum.StartedAt.UnixNano(), sum.FinishedAt.UnixNano(),
		sum.Planned, sum.Transferred, sum.Verified, sum.Mismatched, sum.Failed, sum.Skipped,
		sum.NotAttempted, sum.SourcesDeleted, sum.Excluded, sum.Bytes, sum.Stopped, sum.FatalError,
	)
	if err != nil {
		return "", fmt.Errorf("history: inserting run: %w", err)
	}

	for i, f := range sum.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_failures (run_id, seq, path, dest, status, error) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, i, f.Path, f.Dest, string(f.Status), f.Error,
		); err != nil {
			return "", fmt.Errorf("history: inserting failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("history: commit: %w", err)
	}

	s.logger.Debug("run recorded", slog.String("id", run.ID), slog.Int("failures", len(sum.Failures)))

	return run.ID, nil
}

const runColumns = `id, command, source, dest, dry_run, started_at, finished_at,
	planned, transferred, verified, mismatched, failed, skipped,
	not_attempted, sources_deleted, excluded, bytes, stopped, fatal_error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run             Run
		started, finish int64
	)

	sum := &run.Summary

	err := row.Scan(&run.ID, &run.Command, &run.Source, &run.Dest, &sum.DryRun, &started, &finish,
		&sum.Planned, &sum.Transferred, &sum.Verified, &sum.Mismatched, &sum.Failed, &sum.Skipped,
		&sum.NotAttempted, &sum.SourcesDeleted, &sum.Excluded, &sum.Bytes, &sum.Stopped, &sum.FatalError)
	if err != nil {
		return Run{}, err
	}

	sum.StartedAt = time.Unix(0, started)
	sum.FinishedAt = time.Unix(0, finish)

	return run, nil
}

// Recent returns up to n runs, newest first, without their failures.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scanning run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating runs: %w", err)
	}

	return runs, nil
}

// Get returns one run with its failures. A unique id prefix is accepted.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	if id == "" {
		return Run{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		run, err = s.byPrefix(ctx, id)
	}

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Run{}, err
		}

		return Run{}, fmt.Errorf("history: reading run %s: %w", id, err)
	}

	failures, err := s.failures(ctx, run.ID)
	if err != nil {
		return Run{}, err
	}

	run.Summary.Failures = failures

	return run, nil
}

func (s *Store) byPrefix(ctx context.Context, prefix string) (Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id LIKE ? || '%' LIMIT 2`, prefix)
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()

	var matches []Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}

		matches = append(matches, run)
	}

	if err := rows.Err(); err != nil {
		return Run{}, err
	}

	switch len(matches) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return Run{}, fmt.Errorf("id prefix %q is ambiguous", prefix)
	}
}

func (s *Store) failures(ctx context.Context, runID string) ([]transfer.Failure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, dest, status, error FROM run_failures WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: reading failures: %w", err)
	}
	defer rows.Close()

	var out []transfer.Failure

	for rows.Next() {
		var (
			f      transfer.Failure
			status string
		)

		if err := rows.Scan(&f.Path, &f.Dest, &status, &f.Error); err != nil {
			return nil, fmt.Errorf("history: scanning failure: %w", err)
		}

		f.Status = transfer.Status(status)
		out = append(out, f)
	}

	return out, rows.Err()
}
