// Package ledger records runs and flushed batches in SQLite so an
// interrupted run can be resumed without writing a batch twice.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by GetRun for unknown IDs
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the state of a recorded run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunComplete  RunStatus = "complete"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Run is one invocation of the scheduler over an input
type Run struct {
	ID         string
	InputKey   string
	OutputPath string
	Total      int
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Range is an inclusive span of 1-based input indices
type Range struct {
	First int
	Last  int
}

// Contains reports whether index lies inside the range
func (r Range) Contains(index int) bool {
	return index >= r.First && index <= r.Last
}

// BatchMark describes a batch that reached the sink
type BatchMark struct {
	InputKey   string
	BatchID    int
	RunID      string
	FirstIndex int
	LastIndex  int
	Records    int
	Failures   int
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	input_key TEXT NOT NULL,
	output_path TEXT NOT NULL,
	total INTEGER NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_input ON runs(input_key);

CREATE TABLE IF NOT EXISTS batches (
	input_key TEXT NOT NULL,
	batch_id INTEGER NOT NULL,
	run_id TEXT NOT NULL,
	first_index INTEGER NOT NULL,
	last_index INTEGER NOT NULL,
	records INTEGER NOT NULL,
	failures INTEGER NOT NULL,
	flushed_at DATETIME NOT NULL,
	PRIMARY KEY (input_key, first_index)
);
`

// Store provides SQLite-backed run bookkeeping
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the ledger database at path
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new running run
func (s *Store) StartRun(run Run) error {
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, input_key, output_path, total, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.InputKey, run.OutputPath, run.Total, string(run.Status), run.StartedAt)
	return err
}

// FinishRun sets the final status of a run
func (s *Store) FinishRun(id string, status RunStatus) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// MarkBatch records that the indices FirstIndex..LastIndex were written to
// the sink. Marking a range starting at the same index replaces the entry.
func (s *Store) MarkBatch(m BatchMark) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (input_key, batch_id, run_id, first_index, last_index, records, failures, flushed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(input_key, first_index) DO UPDATE SET
			batch_id = excluded.batch_id,
			run_id = excluded.run_id,
			last_index = excluded.last_index,
			records = excluded.records,
			failures = excluded.failures,
			flushed_at = excluded.flushed_at
	`, m.InputKey, m.BatchID, m.RunID, m.FirstIndex, m.LastIndex, m.Records, m.Failures, time.Now().UTC())
	return err
}

// FlushedRanges returns the index ranges already written for an input,
// ordered by first index
func (s *Store) FlushedRanges(inputKey string) ([]Range, error) {
	rows, err := s.db.Query(`
		SELECT first_index, last_index FROM batches
		WHERE input_key = ? ORDER BY first_index
	`, inputKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranges []Range
	for rows.Next() {
		var r Range
		if err := rows.Scan(&r.First, &r.Last); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, rows.Err()
}

// ResetInput forgets all flushed batches of an input, for a fresh run
func (s *Store) ResetInput(inputKey string) error {
	_, err := s.db.Exec(`DELETE FROM batches WHERE input_key = ?`, inputKey)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, input_key, output_path, total, status, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, input_key, output_path, total, status, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var status string
	var finished sql.NullTime

	if err := row.Scan(&run.ID, &run.InputKey, &run.OutputPath, &run.Total, &status, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
