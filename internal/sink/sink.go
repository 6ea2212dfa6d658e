// Package sink persists normalized records batch by batch.
package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/berckan/whoisbatch/internal/models"
)

// ErrHeaderMismatch is returned when appending to a file written with a
// different column set
var ErrHeaderMismatch = errors.New("existing output has different columns")

// Sink receives the records of one batch, sorted by count
type Sink interface {
	Append(ctx context.Context, batchID int, records []models.OutputRecord) error
}

// CSVOptions configures a CSV sink
type CSVOptions struct {
	// Append keeps an existing file and adds rows after it
	Append bool
	// IncludeUpdated adds the Updated Date column
	IncludeUpdated bool
}

// CSVSink appends records to a CSV file with a single header row
type CSVSink struct {
	path           string
	file           *os.File
	w              *csv.Writer
	includeUpdated bool
	mu             sync.Mutex
	rows           int
}

// OpenCSV creates (or truncates) the file at path and writes the header.
// In append mode an existing non-empty file is kept and no second header
// is written; its header must match the requested columns.
func OpenCSV(path string, opts CSVOptions) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}

	writeHeader := true
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if opts.Append {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			if err := checkHeader(path, models.Header(opts.IncludeUpdated)); err != nil {
				return nil, err
			}
			writeHeader = false
		}
	}

	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening output %s: %w", path, err)
	}

	s := &CSVSink{
		path:           path,
		file:           f,
		w:              csv.NewWriter(f),
		includeUpdated: opts.IncludeUpdated,
	}
	if writeHeader {
		if err := s.w.Write(models.Header(opts.IncludeUpdated)); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
		if err := s.sync(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func checkHeader(path string, want []string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening output %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	got, err := r.Read()
	if err != nil {
		return fmt.Errorf("reading header of %s: %w", path, err)
	}
	if len(got) != len(want) {
		return fmt.Errorf("%s has %d columns, want %d: %w", path, len(got), len(want), ErrHeaderMismatch)
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%s column %d is %q, want %q: %w", path, i+1, got[i], want[i], ErrHeaderMismatch)
		}
	}
	return nil
}

// Path returns the output file path
func (s *CSVSink) Path() string {
	return s.path
}

// Rows returns the number of records written through this sink
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Append writes the batch and syncs it to disk before returning
func (s *CSVSink) Append(ctx context.Context, batchID int, records []models.OutputRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.w.Write(r.Row(s.includeUpdated)); err != nil {
			return fmt.Errorf("writing batch %d: %w", batchID, err)
		}
	}
	if err := s.sync(); err != nil {
		return fmt.Errorf("writing batch %d: %w", batchID, err)
	}
	s.rows += len(records)
	return nil
}

func (s *CSVSink) sync() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close flushes pending rows and closes the file
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	werr := s.w.Error()
	if err := s.file.Close(); err != nil {
		return err
	}
	return werr
}

// WriterSink writes records as CSV to an io.Writer such as stdout
type WriterSink struct {
	w              *csv.Writer
	includeUpdated bool
	mu             sync.Mutex
}

// NewWriter writes the header to w and returns a sink appending to it
func NewWriter(w io.Writer, includeUpdated bool) (*WriterSink, error) {
	s := &WriterSink{w: csv.NewWriter(w), includeUpdated: includeUpdated}
	s.w.Write(models.Header(includeUpdated))
	s.w.Flush()
	return s, s.w.Error()
}

func (s *WriterSink) Append(ctx context.Context, batchID int, records []models.OutputRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.w.Write(r.Row(s.includeUpdated))
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("writing batch %d: %w", batchID, err)
	}
	return nil
}
