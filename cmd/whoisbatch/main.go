package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "whoisbatch",
		Short: "Bulk WHOIS lookups with batching, retries and pacing",
		Long: `whoisbatch looks up registration data for large domain lists.
Domains are processed in fixed-size batches with bounded concurrency,
retried on failure and written to CSV one complete batch at a time.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
