package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/berckan/whoisbatch/internal/config"
	"github.com/berckan/whoisbatch/internal/handlers"
	"github.com/berckan/whoisbatch/internal/input"
	"github.com/berckan/whoisbatch/internal/ledger"
	"github.com/berckan/whoisbatch/internal/lookup"
	"github.com/berckan/whoisbatch/internal/scheduler"
	"github.com/berckan/whoisbatch/internal/sink"
	"github.com/berckan/whoisbatch/internal/stats"
)

// whoisXMLDefaultRPS is the API's documented request cap
const whoisXMLDefaultRPS = 50

var (
	runInput       string
	runInputDir    string
	runOutput      string
	runOutputDir   string
	runColumn      string
	runBatchSize   int
	runConcurrency int
	runMaxRetries  int
	runDelay       time.Duration
	runRPS         float64
	runBackend     string
	runResume      bool
	runNoLedger    bool
	runUpdated     bool

	splitSize   int
	splitPrefix string
	splitColumn string

	lookupTLDs    []string
	lookupAllTLDs bool

	servePort int

	runsLimit int
	runsID    string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Look up every domain of a CSV file or a folder of CSV files",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runInput, "input", "", "input CSV file")
	runCmd.Flags().StringVar(&runInputDir, "input-dir", "", "folder of input CSV files")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output CSV file (single file mode)")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "output folder (default from config)")
	runCmd.Flags().StringVar(&runColumn, "column", "", "domain column name")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "domains per batch")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "parallel lookups per batch")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 0, "retries after a failed lookup")
	runCmd.Flags().DurationVar(&runDelay, "delay", 0, "pause between batches")
	runCmd.Flags().Float64Var(&runRPS, "rps", 0, "maximum lookups per second (0 = unlimited)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "lookup backend: whois or whoisxml")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "skip batches already written by an earlier run")
	runCmd.Flags().BoolVar(&runNoLedger, "no-ledger", false, "do not record progress")
	runCmd.Flags().BoolVar(&runUpdated, "include-updated", false, "add the Updated Date column")
	runCmd.MarkFlagsMutuallyExclusive("input", "input-dir")
	runCmd.MarkFlagsOneRequired("input", "input-dir")
	rootCmd.AddCommand(runCmd)

	// split command
	splitCmd := &cobra.Command{
		Use:   "split FILE",
		Short: "Split a domain CSV into smaller chunk files",
		Args:  cobra.ExactArgs(1),
		RunE:  runSplit,
	}
	splitCmd.Flags().IntVar(&splitSize, "size", 10000, "domains per chunk")
	splitCmd.Flags().StringVar(&splitPrefix, "prefix", "urls_chunk", "chunk file prefix")
	splitCmd.Flags().StringVar(&splitColumn, "column", "", "domain column name")
	rootCmd.AddCommand(splitCmd)

	// lookup command
	lookupCmd := &cobra.Command{
		Use:   "lookup DOMAIN...",
		Short: "Look up a few domains and print CSV to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLookup,
	}
	lookupCmd.Flags().StringSliceVar(&lookupTLDs, "tlds", nil, "expand bare names across these TLDs")
	lookupCmd.Flags().BoolVar(&lookupAllTLDs, "all-tlds", false, "expand bare names across the common TLD list")
	lookupCmd.MarkFlagsMutuallyExclusive("tlds", "all-tlds")
	rootCmd.AddCommand(lookupCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lookup HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on")
	rootCmd.AddCommand(serveCmd)

	// runs command
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the ledger",
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	runsCmd.Flags().StringVar(&runsID, "id", "", "show a single run by full ID")
	rootCmd.AddCommand(runsCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

// buildClient creates the configured backend behind the shared rate limiter
func buildClient(cfg *config.Config) (lookup.Client, error) {
	var client lookup.Client
	rps := cfg.Lookup.RequestsPerSecond

	switch cfg.Lookup.Backend {
	case config.BackendWhoisXML:
		opts := []lookup.XMLOption{
			lookup.WithHTTPClient(&http.Client{Timeout: cfg.Lookup.Timeout.Std()}),
		}
		if cfg.Lookup.WhoisXMLEndpoint != "" {
			opts = append(opts, lookup.WithEndpoint(cfg.Lookup.WhoisXMLEndpoint))
		}
		xc, err := lookup.NewXML(cfg.Lookup.WhoisXMLAPIKey, opts...)
		if err != nil {
			return nil, err
		}
		client = xc
		if rps <= 0 {
			rps = whoisXMLDefaultRPS
		}
	case config.BackendWhois:
		opts := []lookup.WhoisOption{lookup.WithTimeout(cfg.Lookup.Timeout.Std())}
		if cfg.Lookup.NSFallback {
			opts = append(opts, lookup.WithNSFallback(cfg.Lookup.DNSServer))
		}
		client = lookup.NewWhois(opts...)
	default:
		return nil, fmt.Errorf("unknown lookup backend %q", cfg.Lookup.Backend)
	}

	return lookup.Limited(client, rps, cfg.Lookup.RateBurst), nil
}

// newRecorder uses Redis when configured and reachable, memory otherwise
func newRecorder(ctx context.Context, cfg *config.Config, logger *log.Logger) (stats.Recorder, func()) {
	if cfg.Stats.RedisAddr == "" {
		return stats.NewMemoryStore(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Stats.RedisAddr,
		Password: cfg.Stats.RedisPassword,
		DB:       cfg.Stats.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Printf("[stats] redis %s unavailable, keeping stats in memory: %v", cfg.Stats.RedisAddr, err)
		rdb.Close()
		return stats.NewMemoryStore(), func() {}
	}
	store := stats.NewRedisStore(rdb, stats.WithPrefix(cfg.Stats.Prefix), stats.WithTTL(cfg.Stats.TTL.Std()))
	return store, func() { rdb.Close() }
}

// applyRunFlags lets explicitly set flags override the configuration
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("column") {
		cfg.Input.Column = runColumn
	}
	if flags.Changed("batch-size") {
		cfg.Run.BatchSize = runBatchSize
	}
	if flags.Changed("concurrency") {
		cfg.Run.Concurrency = runConcurrency
	}
	if flags.Changed("max-retries") {
		cfg.Lookup.MaxRetries = runMaxRetries
	}
	if flags.Changed("delay") {
		cfg.Run.InterBatchDelay = config.Duration(runDelay)
	}
	if flags.Changed("rps") {
		cfg.Lookup.RequestsPerSecond = runRPS
	}
	if flags.Changed("backend") {
		cfg.Lookup.Backend = runBackend
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = runOutputDir
	}
	if flags.Changed("include-updated") {
		cfg.Output.IncludeUpdated = runUpdated
	}
	if runNoLedger {
		cfg.Ledger.Enabled = false
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if runResume && !cfg.Ledger.Enabled {
		return fmt.Errorf("--resume needs the ledger")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	recorder, closeStats := newRecorder(ctx, cfg, logger)
	defer closeStats()

	r := &runner{
		cfg:    cfg,
		client: client,
		stats:  recorder,
		logger: logger,
		resume: runResume,
	}
	if cfg.Ledger.Enabled {
		store, err := ledger.New(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("opening ledger %s: %w", cfg.Ledger.Path, err)
		}
		defer store.Close()
		r.ledger = store
	}

	if runInputDir != "" {
		err = r.runFolder(ctx, runInputDir, cfg.Output.Dir)
	} else {
		out := runOutput
		if out == "" {
			out = outputPath(cfg.Output.Dir, runInput)
		}
		err = r.runFile(ctx, runInput, out)
	}

	if mem, ok := recorder.(*stats.MemoryStore); ok {
		total := mem.Total()
		logger.Printf("[stats] %s batches, %s records, %s failures, %s lookups",
			humanize.Comma(total.Batches), humanize.Comma(total.Records),
			humanize.Comma(total.Failures), humanize.Comma(total.Attempts))
	}
	return err
}

func runSplit(cmd *cobra.Command, args []string) error {
	files, err := input.Split(args[0], splitColumn, splitPrefix, splitSize)
	for _, f := range files {
		fmt.Printf("Created: %s\n", f)
	}
	return err
}

func runLookup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	domains := expandDomains(args, lookupTLDs, lookupAllTLDs)

	out, err := sink.NewWriter(os.Stdout, cfg.Output.IncludeUpdated)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(client, out,
		scheduler.WithBatchSize(len(domains)),
		scheduler.WithConcurrency(cfg.Run.Concurrency),
		scheduler.WithInterBatchDelay(0),
		scheduler.WithPolicy(cfg.RetryPolicy()),
		scheduler.WithLogger(log.New(os.Stderr, "", 0)),
	)
	_, err = s.Run(ctx, domains)
	return err
}

// expandDomains cleans args and expands bare names across tlds, or across
// the common list when all is set
func expandDomains(args, tlds []string, all bool) []string {
	var domains []string
	for _, arg := range input.Clean(args) {
		switch {
		case strings.Contains(arg, "."):
			domains = append(domains, arg)
		case all:
			domains = append(domains, input.GenerateMultiTLD(arg, nil)...)
		case len(tlds) > 0:
			domains = append(domains, input.GenerateMultiTLD(arg, tlds)...)
		default:
			domains = append(domains, arg)
		}
	}
	return domains
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)

	logger := newLogger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.New(client, cfg.RetryPolicy(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("[api] listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Printf("[api] shutting down")
	return srv.Shutdown(shutdownCtx)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := ledger.New(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	var runs []*ledger.Run
	if runsID != "" {
		run, err := store.GetRun(runsID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runsID, err)
		}
		runs = append(runs, run)
	} else if runs, err = store.ListRuns(runsLimit); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tDOMAINS\tSTARTED\tINPUT\tOUTPUT")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID[:min(8, len(run.ID))], run.Status, humanize.Comma(int64(run.Total)),
			humanize.Time(run.StartedAt), run.InputKey, run.OutputPath)
	}
	return w.Flush()
}
