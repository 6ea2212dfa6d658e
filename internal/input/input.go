// Package input loads domain lists from CSV files and prepares them for a run.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultColumn is the header of the domain column
const DefaultColumn = "Domain"

// ErrNoDomains is returned when an input yields nothing to look up
var ErrNoDomains = errors.New("no domains in input")

// Clean trims every value and drops the empty ones, keeping order
func Clean(raw []string) []string {
	domains := make([]string, 0, len(raw))
	for _, d := range raw {
		d = strings.TrimSpace(d)
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// LoadCSV reads the named column of a CSV file with a header row.
// A missing column or a column without values is ErrNoDomains.
func LoadCSV(path, column string) ([]string, error) {
	if column == "" {
		column = DefaultColumn
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDomains)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == column {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%s: column %q not found: %w", path, column, ErrNoDomains)
	}

	var raw []string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if col < len(row) {
			raw = append(raw, row[col])
		}
	}

	domains := Clean(raw)
	if len(domains) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDomains)
	}
	return domains, nil
}

// ListCSV returns the .csv files of dir in name order
func ListCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Split writes the domains of path into <outPrefix>_<n>.csv files of at
// most chunkSize rows each and returns the file names.
func Split(path, column, outPrefix string, chunkSize int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	domains, err := LoadCSV(path, column)
	if err != nil {
		return nil, err
	}

	var files []string
	for start, n := 0, 1; start < len(domains); start, n = start+chunkSize, n+1 {
		end := min(start+chunkSize, len(domains))
		name := fmt.Sprintf("%s_%d.csv", outPrefix, n)
		if err := writeChunk(name, domains[start:end]); err != nil {
			return files, err
		}
		files = append(files, name)
	}
	return files, nil
}

func writeChunk(path string, domains []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	w.Write([]string{DefaultColumn})
	for _, d := range domains {
		w.Write([]string{d})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
