package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/berckan/whoisbatch/internal/retry"
)

// Backends accepted by lookup.backend
const (
	BackendWhois    = "whois"
	BackendWhoisXML = "whoisxml"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "WHOISBATCH_"

// Config holds all application configuration
type Config struct {
	Run    RunConfig    `toml:"run"`
	Input  InputConfig  `toml:"input"`
	Lookup LookupConfig `toml:"lookup"`
	Output OutputConfig `toml:"output"`
	Ledger LedgerConfig `toml:"ledger"`
	Stats  StatsConfig  `toml:"stats"`
	Server ServerConfig `toml:"server"`
}

// RunConfig holds batch scheduling settings
type RunConfig struct {
	BatchSize       int      `toml:"batch_size"`
	Concurrency     int      `toml:"concurrency"`
	InterBatchDelay Duration `toml:"inter_batch_delay"`
}

// InputConfig holds input file settings
type InputConfig struct {
	Column string `toml:"column"`
}

// LookupConfig holds lookup backend and retry settings
type LookupConfig struct {
	Backend           string   `toml:"backend"`
	Timeout           Duration `toml:"timeout"`
	MaxRetries        int      `toml:"max_retries"`
	RetryDelay        Duration `toml:"retry_delay"`
	RetryMaxDelay     Duration `toml:"retry_max_delay"`
	RetryMultiplier   float64  `toml:"retry_multiplier"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	RateBurst         int      `toml:"rate_burst"`
	WhoisXMLAPIKey    string   `toml:"whoisxml_api_key"`
	WhoisXMLEndpoint  string   `toml:"whoisxml_endpoint"`
	NSFallback        bool     `toml:"ns_fallback"`
	DNSServer         string   `toml:"dns_server"`
}

// OutputConfig holds output file settings
type OutputConfig struct {
	Dir            string `toml:"dir"`
	IncludeUpdated bool   `toml:"include_updated"`
}

// LedgerConfig holds progress ledger settings
type LedgerConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// StatsConfig holds run statistics settings. An empty RedisAddr keeps
// statistics in memory.
type StatsConfig struct {
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	Prefix        string   `toml:"prefix"`
	TTL           Duration `toml:"ttl"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Duration is a time.Duration written as "2s" or "500ms" in TOML
type Duration time.Duration

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Run: RunConfig{
			BatchSize:       50000,
			Concurrency:     10,
			InterBatchDelay: Duration(2 * time.Second),
		},
		Input: InputConfig{
			Column: "Domain",
		},
		Lookup: LookupConfig{
			Backend:         BackendWhois,
			Timeout:         Duration(30 * time.Second),
			MaxRetries:      1,
			RetryDelay:      Duration(time.Second),
			RetryMaxDelay:   Duration(30 * time.Second),
			RetryMultiplier: 2,
			RateBurst:       1,
			DNSServer:       "8.8.8.8:53",
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".whoisbatch", "ledger.db"),
		},
		Stats: StatsConfig{
			Prefix: "whoisbatch:stats",
			TTL:    Duration(7 * 24 * time.Hour),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Ledger.Path = ExpandPath(cfg.Ledger.Path)
	cfg.Output.Dir = ExpandPath(cfg.Output.Dir)

	return cfg, nil
}

// ApplyEnv overrides settings from WHOISBATCH_* variables.
// WHOISXML_API_KEY is honored for the API key as well.
func (c *Config) ApplyEnv() {
	c.Run.BatchSize = getenvIntDefault(EnvPrefix+"BATCH_SIZE", c.Run.BatchSize)
	c.Run.Concurrency = getenvIntDefault(EnvPrefix+"CONCURRENCY", c.Run.Concurrency)
	c.Run.InterBatchDelay = Duration(getenvDurationDefault(EnvPrefix+"INTER_BATCH_DELAY", c.Run.InterBatchDelay.Std()))

	c.Input.Column = getenvDefault(EnvPrefix+"COLUMN", c.Input.Column)

	c.Lookup.Backend = getenvDefault(EnvPrefix+"BACKEND", c.Lookup.Backend)
	c.Lookup.Timeout = Duration(getenvDurationDefault(EnvPrefix+"LOOKUP_TIMEOUT", c.Lookup.Timeout.Std()))
	c.Lookup.MaxRetries = getenvIntDefault(EnvPrefix+"MAX_RETRIES", c.Lookup.MaxRetries)
	c.Lookup.RetryDelay = Duration(getenvDurationDefault(EnvPrefix+"RETRY_DELAY", c.Lookup.RetryDelay.Std()))
	c.Lookup.RequestsPerSecond = getenvFloatDefault(EnvPrefix+"REQUESTS_PER_SECOND", c.Lookup.RequestsPerSecond)
	c.Lookup.RateBurst = getenvIntDefault(EnvPrefix+"RATE_BURST", c.Lookup.RateBurst)
	c.Lookup.WhoisXMLAPIKey = getenvDefault("WHOISXML_API_KEY", c.Lookup.WhoisXMLAPIKey)
	c.Lookup.WhoisXMLAPIKey = getenvDefault(EnvPrefix+"WHOISXML_API_KEY", c.Lookup.WhoisXMLAPIKey)
	c.Lookup.NSFallback = getenvBoolDefault(EnvPrefix+"NS_FALLBACK", c.Lookup.NSFallback)
	c.Lookup.DNSServer = getenvDefault(EnvPrefix+"DNS_SERVER", c.Lookup.DNSServer)

	c.Output.IncludeUpdated = getenvBoolDefault(EnvPrefix+"INCLUDE_UPDATED", c.Output.IncludeUpdated)

	c.Ledger.Enabled = getenvBoolDefault(EnvPrefix+"LEDGER", c.Ledger.Enabled)
	c.Ledger.Path = ExpandPath(getenvDefault(EnvPrefix+"LEDGER_PATH", c.Ledger.Path))

	c.Stats.RedisAddr = getenvDefault(EnvPrefix+"REDIS_ADDR", c.Stats.RedisAddr)
	c.Stats.RedisPassword = getenvDefault(EnvPrefix+"REDIS_PASSWORD", c.Stats.RedisPassword)
	c.Stats.RedisDB = getenvIntDefault(EnvPrefix+"REDIS_DB", c.Stats.RedisDB)
	c.Stats.TTL = Duration(getenvDurationDefault(EnvPrefix+"STATS_TTL", c.Stats.TTL.Std()))

	c.Server.Host = getenvDefault(EnvPrefix+"HOST", c.Server.Host)
	c.Server.Port = getenvIntDefault("PORT", c.Server.Port)
	c.Server.Port = getenvIntDefault(EnvPrefix+"PORT", c.Server.Port)
}

// Validate reports settings that cannot produce a working run
func (c *Config) Validate() error {
	var errs []error
	if c.Run.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("run.batch_size must be positive, got %d", c.Run.BatchSize))
	}
	if c.Run.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("run.concurrency must be positive, got %d", c.Run.Concurrency))
	}
	if c.Run.InterBatchDelay < 0 {
		errs = append(errs, errors.New("run.inter_batch_delay must not be negative"))
	}
	if c.Lookup.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("lookup.max_retries must not be negative, got %d", c.Lookup.MaxRetries))
	}
	switch c.Lookup.Backend {
	case BackendWhois:
	case BackendWhoisXML:
		if c.Lookup.WhoisXMLAPIKey == "" {
			errs = append(errs, errors.New("lookup.whoisxml_api_key is required for the whoisxml backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lookup.backend %q", c.Lookup.Backend))
	}
	return errors.Join(errs...)
}

// RetryPolicy builds the retry policy for lookups
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:     c.Lookup.MaxRetries,
		InitialDelay:   c.Lookup.RetryDelay.Std(),
		MaxDelay:       c.Lookup.RetryMaxDelay.Std(),
		Multiplier:     c.Lookup.RetryMultiplier,
		AttemptTimeout: c.Lookup.Timeout.Std(),
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "whoisbatch", "config.toml")
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
