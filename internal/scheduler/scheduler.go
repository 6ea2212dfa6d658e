// Package scheduler runs bulk lookups in paced, fixed-size batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/berckan/whoisbatch/internal/ledger"
	"github.com/berckan/whoisbatch/internal/lookup"
	"github.com/berckan/whoisbatch/internal/models"
	"github.com/berckan/whoisbatch/internal/normalize"
	"github.com/berckan/whoisbatch/internal/retry"
	"github.com/berckan/whoisbatch/internal/sink"
	"github.com/berckan/whoisbatch/internal/stats"
)

const (
	DefaultBatchSize       = 50000
	DefaultConcurrency     = 10
	DefaultInterBatchDelay = 2 * time.Second
)

// Ledger is the progress bookkeeping a scheduler needs
type Ledger interface {
	StartRun(run ledger.Run) error
	FinishRun(id string, status ledger.RunStatus) error
	MarkBatch(m ledger.BatchMark) error
	FlushedRanges(inputKey string) ([]ledger.Range, error)
	ResetInput(inputKey string) error
}

// Scheduler looks up every domain exactly once and writes the records to
// the sink batch by batch, in input order.
type Scheduler struct {
	client      lookup.Client
	sink        sink.Sink
	policy      retry.Policy
	batchSize   int
	concurrency int
	delay       time.Duration
	logger      *log.Logger
	stats       stats.Recorder

	ledger     Ledger
	inputKey   string
	outputPath string
	resume     bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithBatchSize sets the maximum number of domains per batch
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency sets the number of parallel lookups within a batch
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithInterBatchDelay sets the pause between batches
func WithInterBatchDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithPolicy sets the retry policy applied to each lookup
func WithPolicy(p retry.Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithLogger sets the progress logger
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStats records one event per flushed batch
func WithStats(r stats.Recorder) Option {
	return func(s *Scheduler) { s.stats = r }
}

// WithLedger records the run and its flushed batches under inputKey
func WithLedger(l Ledger, inputKey, outputPath string) Option {
	return func(s *Scheduler) {
		s.ledger = l
		s.inputKey = inputKey
		s.outputPath = outputPath
	}
}

// WithResume skips the input indices the ledger already records as flushed
func WithResume(resume bool) Option {
	return func(s *Scheduler) { s.resume = resume }
}

// New creates a scheduler that looks domains up with client and writes to out
func New(client lookup.Client, out sink.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:      client,
		sink:        out,
		policy:      retry.Default(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		delay:       DefaultInterBatchDelay,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Partition numbers domains from 1 and splits them into contiguous batches
// of at most size entries.
func Partition(domains []string, size int) []models.Batch {
	queries := make([]models.DomainQuery, len(domains))
	for i, d := range domains {
		queries[i] = models.DomainQuery{Domain: d, Index: i + 1}
	}
	return partition(queries, size)
}

// partition groups queries into batches of at most size entries. A batch
// never spans a gap in the indices, so every batch covers one contiguous
// index range.
func partition(queries []models.DomainQuery, size int) []models.Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches []models.Batch
	for i, q := range queries {
		n := len(batches)
		if n == 0 || len(batches[n-1].Queries) == size || queries[i-1].Index != q.Index-1 {
			batches = append(batches, models.Batch{ID: n + 1, Queries: make([]models.DomainQuery, 0, min(size, len(queries)-i))})
			n++
		}
		q.Batch = batches[n-1].ID
		batches[n-1].Queries = append(batches[n-1].Queries, q)
	}
	return batches
}

// pending numbers domains from 1 and drops the indices covered by flushed
// ranges, keeping input order.
func pending(domains []string, flushed []ledger.Range) []models.DomainQuery {
	covered := make([]bool, len(domains)+1)
	for _, r := range flushed {
		for i := max(r.First, 1); i <= min(r.Last, len(domains)); i++ {
			covered[i] = true
		}
	}
	queries := make([]models.DomainQuery, 0, len(domains))
	for i, d := range domains {
		if !covered[i+1] {
			queries = append(queries, models.DomainQuery{Domain: d, Index: i + 1})
		}
	}
	return queries
}

// run holds the state of one Run call
type run struct {
	id      string
	prefix  string
	started time.Time
	summary models.Summary
}

func newRun() *run {
	id := uuid.NewString()
	return &run{
		id:      id,
		prefix:  fmt.Sprintf("[run %s]", id[:8]),
		started: time.Now(),
		summary: models.Summary{RunID: id},
	}
}

// Run processes domains batch by batch. It returns ctx.Err() when
// cancelled; a batch interrupted by cancellation is never written.
func (s *Scheduler) Run(ctx context.Context, domains []string) (models.Summary, error) {
	r := newRun()

	flushed, err := s.startLedger(r, len(domains))
	if err != nil {
		return r.summary, err
	}
	queries := pending(domains, flushed)
	r.summary.Resumed = len(domains) - len(queries)
	batches := partition(queries, s.batchSize)
	r.summary.Batches = len(batches)

	if r.summary.Resumed > 0 {
		s.logger.Printf("%s resuming: %s domains already flushed", r.prefix, humanize.Comma(int64(r.summary.Resumed)))
	}
	s.logger.Printf("%s %s domains in %d batches (batch size %s, concurrency %d)",
		r.prefix, humanize.Comma(int64(len(queries))), len(batches), humanize.Comma(int64(s.batchSize)), s.concurrency)

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return s.finish(r, err)
		}

		s.logger.Printf("%s processing batch %d/%d (%s-%s)", r.prefix, b.ID, len(batches),
			humanize.Comma(int64(b.First())), humanize.Comma(int64(b.Last())))

		records, attempts, err := s.runBatch(ctx, b)
		if err == nil {
			// a cancellation after the last job still taints its result
			err = ctx.Err()
		}
		if err != nil {
			s.logger.Printf("%s batch %d interrupted, discarding %d completed lookups", r.prefix, b.ID, len(records))
			return s.finish(r, err)
		}

		if err := s.flush(ctx, r, b, records, attempts); err != nil {
			return s.finish(r, err)
		}

		if i < len(batches)-1 && s.delay > 0 {
			if err := sleep(ctx, s.delay); err != nil {
				return s.finish(r, err)
			}
		}
	}

	return s.finish(r, nil)
}

// runBatch looks up every query of the batch with at most s.concurrency
// lookups in flight and returns the records sorted by count. It returns
// ctx.Err() when the batch was cut short.
func (s *Scheduler) runBatch(ctx context.Context, b models.Batch) ([]models.OutputRecord, int, error) {
	n := len(b.Queries)
	results := make([]models.OutputRecord, n)
	attempts := make([]int, n)
	done := make([]bool, n)

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < min(s.concurrency, n); w++ {
		g.Go(func() error {
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				q := b.Queries[i]
				out, tries := s.lookup(gctx, q.Domain)
				results[i] = normalize.Normalize(q, out)
				attempts[i] = tries
				done[i] = true
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := range b.Queries {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- i:
			}
		}
		return nil
	})
	err := g.Wait()

	records := make([]models.OutputRecord, 0, n)
	total := 0
	for i := range results {
		if done[i] {
			records = append(records, results[i])
			total += attempts[i]
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Count < records[j].Count })
	return records, total, err
}

// lookup runs the retry policy and turns a panic into a failed outcome
func (s *Scheduler) lookup(ctx context.Context, domain string) (out models.Outcome, attempts int) {
	defer func() {
		if r := recover(); r != nil {
			out = models.Failed(fmt.Sprintf("lookup panicked: %v", r))
			attempts = max(attempts, 1)
		}
	}()
	return s.policy.Lookup(ctx, s.client, domain)
}

func (s *Scheduler) flush(ctx context.Context, r *run, b models.Batch, records []models.OutputRecord, attempts int) error {
	if len(records) == 0 {
		r.summary.Skipped++
		s.logger.Printf("%s no valid results for batch %d, skipping flush", r.prefix, b.ID)
		return nil
	}

	if err := s.sink.Append(ctx, b.ID, records); err != nil {
		return fmt.Errorf("flushing batch %d: %w", b.ID, err)
	}

	failures := 0
	for _, rec := range records {
		if rec.Failed() {
			failures++
		}
	}
	r.summary.Flushed++
	r.summary.Records += len(records)
	r.summary.Failures += failures
	s.logger.Printf("%s batch %d flushed: %s records, %s failed", r.prefix, b.ID,
		humanize.Comma(int64(len(records))), humanize.Comma(int64(failures)))

	if s.ledger != nil {
		err := s.ledger.MarkBatch(ledger.BatchMark{
			InputKey:   s.inputKey,
			BatchID:    b.ID,
			RunID:      r.id,
			FirstIndex: b.First(),
			LastIndex:  b.Last(),
			Records:    len(records),
			Failures:   failures,
		})
		if err != nil {
			s.logger.Printf("%s ledger: marking batch %d: %v", r.prefix, b.ID, err)
		}
	}
	if s.stats != nil {
		err := s.stats.Record(ctx, stats.Event{
			RunID:    r.id,
			BatchID:  b.ID,
			Records:  len(records),
			Failures: failures,
			Attempts: attempts,
			At:       time.Now(),
		})
		if err != nil {
			s.logger.Printf("%s stats: %v", r.prefix, err)
		}
	}
	return nil
}

func (s *Scheduler) startLedger(r *run, total int) ([]ledger.Range, error) {
	if s.ledger == nil {
		return nil, nil
	}

	var flushed []ledger.Range
	if s.resume {
		var err error
		flushed, err = s.ledger.FlushedRanges(s.inputKey)
		if err != nil {
			return nil, fmt.Errorf("reading ledger: %w", err)
		}
	} else if err := s.ledger.ResetInput(s.inputKey); err != nil {
		return nil, fmt.Errorf("resetting ledger: %w", err)
	}

	err := s.ledger.StartRun(ledger.Run{
		ID:         r.id,
		InputKey:   s.inputKey,
		OutputPath: s.outputPath,
		Total:      total,
		StartedAt:  r.started.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return flushed, nil
}

func (s *Scheduler) finish(r *run, err error) (models.Summary, error) {
	r.summary.Elapsed = time.Since(r.started)

	status := ledger.RunComplete
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = ledger.RunCancelled
	default:
		status = ledger.RunFailed
	}

	if s.ledger != nil {
		if lerr := s.ledger.FinishRun(r.id, status); lerr != nil {
			s.logger.Printf("%s ledger: finishing run: %v", r.prefix, lerr)
		}
	}

	s.logger.Printf("%s %s: %s records in %d batches (%s failed, %d skipped, %s resumed) in %s",
		r.prefix, status, humanize.Comma(int64(r.summary.Records)), r.summary.Flushed,
		humanize.Comma(int64(r.summary.Failures)), r.summary.Skipped,
		humanize.Comma(int64(r.summary.Resumed)), r.summary.Elapsed.Round(time.Millisecond))
	return r.summary, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
