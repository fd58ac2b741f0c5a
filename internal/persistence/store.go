package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"paratest/internal/models"
)

// MaxExecutions is the number of executions (and their timing rows) retained per source.
const MaxExecutions = 5

// ErrNotInitialized is returned by Add when no execution has been created yet.
var ErrNotInitialized = errors.New("timing store has no current execution, call Initialize first")

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS executions (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    source    TEXT NOT NULL,
    timestamp DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS timing (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    source    TEXT NOT NULL,
    test      TEXT NOT NULL,
    duration  REAL NOT NULL,
    execution INTEGER NOT NULL REFERENCES executions (id)
)`,
	`CREATE INDEX IF NOT EXISTS timing_source_test ON timing (source, test)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS executions (
    id        BIGSERIAL PRIMARY KEY,
    source    TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS timing (
    id        BIGSERIAL PRIMARY KEY,
    source    TEXT NOT NULL,
    test      TEXT NOT NULL,
    duration  DOUBLE PRECISION NOT NULL,
    execution BIGINT NOT NULL REFERENCES executions (id)
)`,
	`CREATE INDEX IF NOT EXISTS timing_source_test ON timing (source, test)`,
}

// staleExecutions selects every execution of a source beyond the MaxExecutions most recent ones
const staleExecutions = `
SELECT id
FROM executions
WHERE source = ?
  AND id NOT IN (SELECT id FROM executions WHERE source = ? ORDER BY id DESC LIMIT ?)`

// Store keeps the historical duration of every (source, test) pair. Each call runs in its own
// transaction, so workers can record timings concurrently through the same Store.
type Store struct {
	db *sqlx.DB

	mu        sync.RWMutex
	execution int64
}

// TestAverage is the average duration in seconds of one test.
type TestAverage struct {
	Test    string  `db:"test" json:"test"`
	Average float64 `db:"average" json:"average"`
}

// SourceReport lists the averages of every test recorded for a source.
type SourceReport struct {
	Source string        `json:"source"`
	Tests  []TestAverage `json:"tests"`
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Initialize ensures the schema exists, creates a new execution for source and drops the executions
// of source beyond the MaxExecutions most recent, all in one transaction.
func (s *Store) Initialize(ctx context.Context, source string) (id int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { err = releaseTx(tx, err) }()

	if err := s.createSchema(ctx, tx); err != nil {
		return 0, err
	}

	err = tx.QueryRowxContext(ctx,
		tx.Rebind(`INSERT INTO executions (source, timestamp) VALUES (?, ?) RETURNING id`),
		source, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}

	for _, table := range []struct{ name, column string }{
		{"timing", "execution"},
		{"executions", "id"},
	} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s IN (%s)`, table.name, table.column, staleExecutions)
		res, err := tx.ExecContext(ctx, tx.Rebind(query), source, source, MaxExecutions)
		if err != nil {
			return 0, fmt.Errorf("rotate %s: %w", table.name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Debug().Str("source", source).Str("table", table.name).Int64("rows", n).Msg("Rotated old timing history")
		}
	}

	s.mu.Lock()
	s.execution = id
	s.mu.Unlock()

	return id, nil
}

// Execution returns the id of the execution created by the last Initialize, or 0.
func (s *Store) Execution() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.execution
}

// GetPriority returns the mean of every retained duration of (source, test). A test without
// history has priority 0.
func (s *Store) GetPriority(ctx context.Context, source, test string) (float64, error) {
	var avg null.Float
	err := s.db.GetContext(ctx, &avg,
		s.db.Rebind(`SELECT AVG(duration) FROM timing WHERE source = ? AND test = ?`),
		source, test,
	)
	if err != nil {
		return 0, fmt.Errorf("get priority of %s: %w", test, err)
	}
	return avg.ValueOrZero(), nil
}

// Add records one duration (in seconds) of test against the execution of the last Initialize.
func (s *Store) Add(ctx context.Context, source, test string, duration float64) error {
	return s.Record(ctx, s.Execution(), source, test, duration)
}

// Record records one duration (in seconds) of test against the given execution. Runs sharing a
// Store pass the id their own Initialize returned.
func (s *Store) Record(ctx context.Context, execution int64, source, test string, duration float64) (err error) {
	if execution == 0 {
		return ErrNotInitialized
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { err = releaseTx(tx, err) }()

	_, err = tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO timing (source, test, duration, execution) VALUES (?, ?, ?, ?)`),
		source, test, duration, execution,
	)
	if err != nil {
		return fmt.Errorf("insert timing of %s: %w", test, err)
	}
	return nil
}

// Report returns the average duration of every test, grouped by source. Sources and tests are
// sorted by name.
func (s *Store) Report(ctx context.Context) (_ []SourceReport, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { err = releaseTx(tx, err) }()

	if err := s.createSchema(ctx, tx); err != nil {
		return nil, err
	}

	var rows []struct {
		Source string `db:"source"`
		TestAverage
	}
	err = tx.SelectContext(ctx, &rows, `
SELECT source, test, AVG(duration) AS average
FROM timing
GROUP BY source, test
ORDER BY source, test`)
	if err != nil {
		return nil, fmt.Errorf("select averages: %w", err)
	}

	var report []SourceReport
	for _, row := range rows {
		if len(report) == 0 || report[len(report)-1].Source != row.Source {
			report = append(report, SourceReport{Source: row.Source})
		}
		last := &report[len(report)-1]
		last.Tests = append(last.Tests, row.TestAverage)
	}
	return report, nil
}

// Show renders Report as text.
func (s *Store) Show(ctx context.Context) (string, error) {
	report, err := s.Report(ctx)
	if err != nil {
		return "", err
	}
	if len(report) == 0 {
		return "No data available\n", nil
	}

	var b strings.Builder
	for _, src := range report {
		fmt.Fprintf(&b, "Source: %s\n", src.Source)
		for _, t := range src.Tests {
			fmt.Fprintf(&b, "    %s: %.3fs\n", t.Test, t.Average)
		}
	}
	return b.String(), nil
}

// Executions returns the retained executions of source, newest first.
func (s *Store) Executions(ctx context.Context, source string) ([]models.Execution, error) {
	executions := []models.Execution{}
	err := s.db.SelectContext(ctx, &executions,
		s.db.Rebind(`SELECT id, source, timestamp FROM executions WHERE source = ? ORDER BY id DESC`),
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("select executions: %w", err)
	}
	return executions, nil
}

// Timings returns every retained timing row of source, oldest first.
func (s *Store) Timings(ctx context.Context, source string) ([]models.Timing, error) {
	timings := []models.Timing{}
	err := s.db.SelectContext(ctx, &timings,
		s.db.Rebind(`SELECT id, source, test, duration, execution FROM timing WHERE source = ? ORDER BY id`),
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("select timings: %w", err)
	}
	return timings, nil
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { err = releaseTx(tx, err) }()

	return s.createSchema(ctx, tx)
}

func (s *Store) createSchema(ctx context.Context, tx *sqlx.Tx) error {
	schema := sqliteSchema
	if s.db.DriverName() == "pgx" {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// releaseTx commits the transaction when err is nil and rolls it back otherwise. It returns the
// error the caller should report.
func releaseTx(tx *sqlx.Tx, err error) error {
	if err != nil {
		if err2 := tx.Rollback(); err2 != nil && !errors.Is(err2, sql.ErrTxDone) {
			log.Error().Err(err2).Msg("Could not rollback transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
