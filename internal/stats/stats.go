// Package stats records per-batch lookup counters.
package stats

import (
	"context"
	"sync"
	"time"
)

// Event is emitted once per flushed batch
type Event struct {
	RunID    string
	BatchID  int
	Records  int
	Failures int
	Attempts int
	At       time.Time
}

// Recorder persists batch events. Callers treat errors as best-effort.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Counters are the accumulated totals for a run
type Counters struct {
	Batches  int64
	Records  int64
	Failures int64
	Attempts int64
}

func (c *Counters) add(ev Event) {
	c.Batches++
	c.Records += int64(ev.Records)
	c.Failures += int64(ev.Failures)
	c.Attempts += int64(ev.Attempts)
}

// MemoryStore keeps counters in process; it never expires anything.
type MemoryStore struct {
	mu    sync.Mutex
	total Counters
	byRun map[string]Counters
}

// NewMemoryStore creates an empty in-memory recorder
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byRun: make(map[string]Counters)}
}

func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)
	c := s.byRun[ev.RunID]
	c.add(ev)
	s.byRun[ev.RunID] = c
	return nil
}

// Total returns counters across all runs
func (s *MemoryStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Run returns the counters of one run
func (s *MemoryStore) Run(id string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRun[id]
}
