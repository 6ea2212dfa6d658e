package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/berckan/whoisbatch/internal/config"
	"github.com/berckan/whoisbatch/internal/input"
	"github.com/berckan/whoisbatch/internal/ledger"
	"github.com/berckan/whoisbatch/internal/lookup"
	"github.com/berckan/whoisbatch/internal/models"
	"github.com/berckan/whoisbatch/internal/scheduler"
	"github.com/berckan/whoisbatch/internal/sink"
	"github.com/berckan/whoisbatch/internal/stats"
)

// runner processes input files with one client, ledger and recorder
type runner struct {
	cfg    *config.Config
	client lookup.Client
	ledger *ledger.Store
	stats  stats.Recorder
	logger *log.Logger
	resume bool
}

// errOutputMissing stops a resume whose earlier output is gone
var errOutputMissing = errors.New("ledger lists flushed batches but the output file is missing or empty; run without --resume")

// outputPath names the result file of an input inside dir
func outputPath(dir, inputFile string) string {
	return filepath.Join(dir, "processed_"+filepath.Base(inputFile))
}

func (r *runner) runFile(ctx context.Context, in, out string) error {
	domains, err := input.LoadCSV(in, r.cfg.Input.Column)
	if err != nil {
		return err
	}
	_, err = r.process(ctx, in, out, domains)
	return err
}

// runFolder processes every CSV of inDir in name order. A file that cannot
// be loaded is logged and skipped.
func (r *runner) runFolder(ctx context.Context, inDir, outDir string) error {
	files, err := input.ListCSV(inDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		r.logger.Printf("[folder] no CSV files in %s", inDir)
		return nil
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	for i, in := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := outputPath(outDir, in)
		r.logger.Printf("[folder] file %d/%d: %s -> %s", i+1, len(files), in, out)

		domains, err := input.LoadCSV(in, r.cfg.Input.Column)
		if err != nil {
			r.logger.Printf("[folder] skipping %s: %v", in, err)
			continue
		}
		if _, err := r.process(ctx, in, out, domains); err != nil {
			return err
		}
		r.logger.Printf("[folder] completed: %s", out)
	}
	return nil
}

func (r *runner) process(ctx context.Context, in, out string, domains []string) (models.Summary, error) {
	key, err := filepath.Abs(in)
	if err != nil {
		key = in
	}
	if r.resume && r.ledger != nil {
		if err := r.checkResumable(key, out); err != nil {
			return models.Summary{}, err
		}
	}

	csvSink, err := sink.OpenCSV(out, sink.CSVOptions{
		Append:         r.resume,
		IncludeUpdated: r.cfg.Output.IncludeUpdated,
	})
	if err != nil {
		return models.Summary{}, err
	}

	opts := []scheduler.Option{
		scheduler.WithBatchSize(r.cfg.Run.BatchSize),
		scheduler.WithConcurrency(r.cfg.Run.Concurrency),
		scheduler.WithInterBatchDelay(r.cfg.Run.InterBatchDelay.Std()),
		scheduler.WithPolicy(r.cfg.RetryPolicy()),
		scheduler.WithLogger(r.logger),
		scheduler.WithResume(r.resume),
	}
	if r.stats != nil {
		opts = append(opts, scheduler.WithStats(r.stats))
	}
	if r.ledger != nil {
		opts = append(opts, scheduler.WithLedger(r.ledger, key, out))
	}

	summary, err := scheduler.New(r.client, csvSink, opts...).Run(ctx, domains)
	if cerr := csvSink.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing %s: %w", out, cerr)
	}
	r.logger.Printf("[file] %s: %d rows written to %s", in, csvSink.Rows(), csvSink.Path())
	return summary, err
}

// checkResumable refuses to append to an output that no longer holds the
// batches the ledger recorded
func (r *runner) checkResumable(key, out string) error {
	ranges, err := r.ledger.FlushedRanges(key)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	if len(ranges) == 0 {
		return nil
	}
	info, err := os.Stat(out)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0) {
		return fmt.Errorf("%s: %w", out, errOutputMissing)
	}
	return err
}
