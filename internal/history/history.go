// Package history keeps a local SQLite record of test runs executed by the
// fireglobe CLI, so past scores can be listed without the relay.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

// ErrNotFound is returned when no run has the requested test id.
var ErrNotFound = errors.New("history: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	test_id           TEXT PRIMARY KEY,
	agent_name        TEXT NOT NULL,
	agent_description TEXT NOT NULL,
	overall_score     INTEGER NOT NULL,
	conversations     INTEGER NOT NULL,
	successful        INTEGER NOT NULL,
	failed            INTEGER NOT NULL,
	warnings          INTEGER NOT NULL DEFAULT 0,
	started_at        TEXT NOT NULL,
	ended_at          TEXT NOT NULL,
	results_path      TEXT NOT NULL DEFAULT '',
	run_id            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Entry is one recorded run.
type Entry struct {
	TestID           string
	AgentName        string
	AgentDescription string
	OverallScore     int
	Conversations    int
	Successful       int
	Failed           int
	Warnings         int
	StartedAt        time.Time
	EndedAt          time.Time
	// ResultsPath is the saved test_results JSON, if any.
	ResultsPath string
	// RunID is the relay's run id when the upload succeeded.
	RunID string
}

// Duration is the wall time of the run.
func (e Entry) Duration() time.Duration { return e.EndedAt.Sub(e.StartedAt) }

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// DefaultPath returns fireglobe.db under the user's config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "fireglobe.db"
	}
	return filepath.Join(dir, "fireglobe", "fireglobe.db")
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("history: create data directory: %w", err)
	}
	return open("file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// OpenInMemory creates a throwaway database for tests.
func OpenInMemory() (*Store, error) {
	return open(":memory:")
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a summary of results. Recording the same test id twice
// replaces the earlier row.
func (s *Store) Record(ctx context.Context, results *fireglobe.TestResults, resultsPath string) error {
	if results == nil || results.TestID == "" {
		return errors.New("history: results must have a test id")
	}
	var runID string
	if results.Upload != nil {
		runID = results.Upload.RunID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			test_id, agent_name, agent_description, overall_score,
			conversations, successful, failed, warnings,
			started_at, ended_at, results_path, run_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		results.TestID,
		results.Agent.Name,
		results.AgentDescription,
		results.OverallScore,
		results.Summary.TotalConversations,
		results.Summary.SuccessfulConversations,
		results.Summary.FailedConversations,
		len(results.Warnings()),
		formatTime(results.StartTime),
		formatTime(results.EndTime),
		resultsPath,
		runID,
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", results.TestID, err)
	}
	return nil
}

const selectColumns = `test_id, agent_name, agent_description, overall_score,
	conversations, successful, failed, warnings,
	started_at, ended_at, results_path, run_id`

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return entries, nil
}

// Get returns the run with testID.
func (s *Store) Get(ctx context.Context, testID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM runs WHERE test_id = ?`, testID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// Delete removes the run with testID.
func (s *Store) Delete(ctx context.Context, testID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE test_id = ?`, testID)
	if err != nil {
		return fmt.Errorf("history: delete %s: %w", testID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var started, ended string
	err := row.Scan(
		&e.TestID, &e.AgentName, &e.AgentDescription, &e.OverallScore,
		&e.Conversations, &e.Successful, &e.Failed, &e.Warnings,
		&started, &ended, &e.ResultsPath, &e.RunID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("history: scan: %w", err)
	}
	if e.StartedAt, err = parseTime(started); err != nil {
		return Entry{}, err
	}
	if e.EndedAt, err = parseTime(ended); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Times are stored as fixed-width UTC text so ORDER BY sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("history: parse time %q: %w", s, err)
	}
	return t, nil
}
