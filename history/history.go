// Package history keeps a local sqlite record of past runs and their report
// rows. Only what the report already contains is stored: emails, statuses
// and error details. App passwords never reach the database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/metrics"
	"github.com/SeanNg93/Gmail-app-password-tester/report"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// Run describes one invocation of the tester.
type Run struct {
	ID          int64
	StartedAt   time.Time
	FinishedAt  time.Time
	InputPath   string
	ReportPath  string
	Concurrency int
	Sequential  bool
	Interrupted bool
	Summary     report.Summary
}

// Entry is a stored report row together with the run it belongs to.
type Entry struct {
	RunID     int64
	StartedAt time.Time
	Row       report.Row
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and brings
// its schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history DB: %w", err)
	}
	// One writer at a time keeps sqlite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		logger.Warn("HISTORY: failed to enable WAL", "error", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrationLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return nil
}

type migrationLogger struct{}

func (migrationLogger) Printf(format string, v ...interface{}) {
	logger.Debugf("[MIGRATE] "+format, v...)
}

func (migrationLogger) Verbose() bool {
	return false
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun stores run and its report rows in one transaction and returns
// the new run ID.
func (s *Store) RecordRun(ctx context.Context, run Run, rows []report.Row) (id int64, err error) {
	defer func() {
		if err != nil {
			metrics.HistoryWrites.WithLabelValues("error").Inc()
		} else {
			metrics.HistoryWrites.WithLabelValues("success").Inc()
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (started_at, finished_at, input_path, report_path, concurrency, sequential,
			interrupted, ok_count, partial_count, failed_count, skipped_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		run.InputPath, run.ReportPath, run.Concurrency, run.Sequential, run.Interrupted,
		run.Summary.OK, run.Summary.Partial, run.Summary.Failed, run.Summary.Skipped)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, position, email, imap_status, imap_error, smtp_status, smtp_error, elapsed_s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, id, i, row.Email, row.IMAPOK, row.IMAPError, row.SMTPOK, row.SMTPError, row.Elapsed); err != nil {
			return 0, fmt.Errorf("failed to insert result for %s: %w", row.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit history: %w", err)
	}
	logger.Debug("HISTORY: run recorded", "run_id", id, "rows", len(rows))
	return id, nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, input_path, report_path, concurrency, sequential,
			interrupted, ok_count, partial_count, failed_count, skipped_count
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.InputPath, &r.ReportPath, &r.Concurrency,
			&r.Sequential, &r.Interrupted, &r.Summary.OK, &r.Summary.Partial, &r.Summary.Failed, &r.Summary.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %d: bad started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("run %d: bad finished_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunRows returns the report rows of one run in report order.
func (s *Store) RunRows(ctx context.Context, runID int64) ([]report.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, imap_status, imap_error, smtp_status, smtp_error, elapsed_s
		FROM results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []report.Row
	for rows.Next() {
		var r report.Row
		if err := rows.Scan(&r.Email, &r.IMAPOK, &r.IMAPError, &r.SMTPOK, &r.SMTPError, &r.Elapsed); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the most recent stored row for email.
func (s *Store) Latest(ctx context.Context, email string) (Entry, bool, error) {
	var (
		e       Entry
		started string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT r.run_id, runs.started_at, r.email, r.imap_status, r.imap_error, r.smtp_status, r.smtp_error, r.elapsed_s
		FROM results r JOIN runs ON runs.id = r.run_id
		WHERE r.email = ? ORDER BY r.run_id DESC, r.position DESC LIMIT 1`, email).
		Scan(&e.RunID, &started, &e.Row.Email, &e.Row.IMAPOK, &e.Row.IMAPError, &e.Row.SMTPOK, &e.Row.SMTPError, &e.Row.Elapsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to query latest result for %s: %w", email, err)
	}
	if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Entry{}, false, fmt.Errorf("run %d: bad started_at: %w", e.RunID, err)
	}
	return e, true, nil
}
