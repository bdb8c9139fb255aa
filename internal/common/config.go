package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// DefaultConfigFile is picked up from the working directory when no --config flag is given
const DefaultConfigFile = "harvester.toml"

// Config represents the application configuration
type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Storage     StorageConfig     `toml:"storage"`
	Crawler     CrawlerConfig     `toml:"crawler"`
	Output      OutputConfig      `toml:"output"`
	Logging     LoggingConfig     `toml:"logging"`
	Schedule    ScheduleConfig    `toml:"schedule"`
}

// CoordinatorConfig is the session coordinator's configuration surface
type CoordinatorConfig struct {
	TotalNodes              int     `toml:"total_nodes" validate:"min=1"`
	NodeID                  int     `toml:"node_id" validate:"min=0"`
	Incremental             bool    `toml:"incremental"`
	ForceRefresh            bool    `toml:"force_refresh"`
	MaxItemConcurrency      int     `toml:"max_item_concurrency" validate:"min=1"`
	MaxDiscoveryConcurrency int     `toml:"max_discovery_concurrency" validate:"min=1"`
	MaxRetryPerItem         int     `toml:"max_retry_per_item" validate:"min=0"`
	MaxTotalItems           int     `toml:"max_total_items" validate:"min=0"` // 0 = unlimited
	RetryInitialBackoff     string  `toml:"retry_initial_backoff"`            // e.g. "1s"
	RetryMaxBackoff         string  `toml:"retry_max_backoff"`                // e.g. "30s"
	RetryMultiplier         float64 `toml:"retry_multiplier" validate:"gte=1"`
	ClaimTimeout            string  `toml:"claim_timeout"`       // in_progress claims older than this are reclaimed
	ResetClearsLedger       bool    `toml:"reset_clears_ledger"` // force reset also deletes the session's ledger keys
}

type StorageConfig struct {
	Ledger   string         `toml:"ledger" validate:"oneof=sqlite postgres badger memory"`
	Progress string         `toml:"progress" validate:"oneof=badger file memory"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
	Badger   BadgerConfig   `toml:"badger"`
	File     FileConfig     `toml:"file"`
}

// SQLiteConfig represents SQLite ledger configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms" validate:"min=0"`
}

// PostgresConfig represents the shared Postgres ledger used by nodes on different hosts
type PostgresConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int    `toml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path string `toml:"path"` // Database directory path
}

// FileConfig configures the JSON file progress store
type FileConfig struct {
	Dir string `toml:"dir"`
}

// CrawlerConfig configures the fetch, discovery and extraction collaborators
type CrawlerConfig struct {
	FetchMode            string   `toml:"fetch_mode" validate:"oneof=auto browser static"`
	BaseURL              string   `toml:"base_url" validate:"required"`
	Seeds                []string `toml:"seeds"`
	UserAgent            string   `toml:"user_agent"`
	RequestDelay         string   `toml:"request_delay"`   // Minimum delay between requests to the same host
	RequestTimeout       string   `toml:"request_timeout"` // Per-page fetch timeout
	MaxPagesPerSubject   int      `toml:"max_pages_per_subject" validate:"min=1"`
	MaxCoursesPerSubject int      `toml:"max_courses_per_subject" validate:"min=0"` // 0 = unlimited
	BrowserPoolSize      int      `toml:"browser_pool_size" validate:"min=1"`
	JavaScriptWaitTime   string   `toml:"javascript_wait_time"`
	Headless             bool     `toml:"headless"`
}

type OutputConfig struct {
	DownloadDir  string `toml:"download_dir" validate:"required"`
	CombinedFile string `toml:"combined_file"` // Written under DownloadDir; empty disables
	PruneEmpty   bool   `toml:"prune_empty"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
	Dir    string   `toml:"dir"`
}

// ScheduleConfig drives recurring incremental crawls
type ScheduleConfig struct {
	Cron       string `toml:"cron"` // 5-field cron expression
	RunOnStart bool   `toml:"run_on_start"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			TotalNodes:              1,
			NodeID:                  0,
			MaxItemConcurrency:      1,
			MaxDiscoveryConcurrency: 2,
			MaxRetryPerItem:         2,
			RetryInitialBackoff:     "1s",
			RetryMaxBackoff:         "30s",
			RetryMultiplier:         2.0,
			ClaimTimeout:            "1h",
		},
		Storage: StorageConfig{
			Ledger:   "sqlite",
			Progress: "badger",
			SQLite: SQLiteConfig{
				Path:          "./data/ledger.db",
				BusyTimeoutMS: 10000,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: "5m",
			},
			Badger: BadgerConfig{
				Path: "./data/progress",
			},
			File: FileConfig{
				Dir: "./data/progress",
			},
		},
		Crawler: CrawlerConfig{
			FetchMode: "auto",
			BaseURL:   "https://ocw.mit.edu",
			Seeds: []string{
				"https://ocw.mit.edu/search/?q=python",
				"https://ocw.mit.edu/search/?d=Electrical%20Engineering%20and%20Computer%20Science",
				"https://ocw.mit.edu/search/?d=Mathematics",
			},
			UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestDelay:         "2s",
			RequestTimeout:       "30s",
			MaxPagesPerSubject:   3,
			MaxCoursesPerSubject: 5,
			BrowserPoolSize:      2,
			JavaScriptWaitTime:   "3s",
			Headless:             true,
		},
		Output: OutputConfig{
			DownloadDir:  "downloads",
			CombinedFile: "scraped_content.json",
			PruneEmpty:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
			Dir:    "logs",
		},
		Schedule: ScheduleConfig{
			Cron: "0 3 * * *", // Daily at 03:00
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// CLI flags are applied afterwards by the caller. When no paths are given and
// harvester.toml exists in the working directory it is used.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	if len(paths) == 0 {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			paths = []string{DefaultConfigFile}
		}
	}

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Later files override earlier ones field by field
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies HARVESTER_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Coordinator configuration
	setInt("HARVESTER_TOTAL_NODES", &config.Coordinator.TotalNodes)
	setInt("HARVESTER_NODE_ID", &config.Coordinator.NodeID)
	setBool("HARVESTER_INCREMENTAL", &config.Coordinator.Incremental)
	setBool("HARVESTER_FORCE_REFRESH", &config.Coordinator.ForceRefresh)
	setInt("HARVESTER_MAX_ITEM_CONCURRENCY", &config.Coordinator.MaxItemConcurrency)
	setInt("HARVESTER_MAX_DISCOVERY_CONCURRENCY", &config.Coordinator.MaxDiscoveryConcurrency)
	setInt("HARVESTER_MAX_RETRY_PER_ITEM", &config.Coordinator.MaxRetryPerItem)
	setInt("HARVESTER_MAX_TOTAL_ITEMS", &config.Coordinator.MaxTotalItems)
	setDuration("HARVESTER_CLAIM_TIMEOUT", &config.Coordinator.ClaimTimeout)

	// Storage configuration
	setString("HARVESTER_LEDGER", &config.Storage.Ledger)
	setString("HARVESTER_PROGRESS", &config.Storage.Progress)
	setString("HARVESTER_SQLITE_PATH", &config.Storage.SQLite.Path)
	setString("HARVESTER_POSTGRES_DSN", &config.Storage.Postgres.DSN)
	setString("HARVESTER_BADGER_PATH", &config.Storage.Badger.Path)
	setString("HARVESTER_PROGRESS_DIR", &config.Storage.File.Dir)

	// Crawler configuration
	setString("HARVESTER_FETCH_MODE", &config.Crawler.FetchMode)
	setString("HARVESTER_BASE_URL", &config.Crawler.BaseURL)
	setString("HARVESTER_USER_AGENT", &config.Crawler.UserAgent)
	setDuration("HARVESTER_REQUEST_DELAY", &config.Crawler.RequestDelay)
	setDuration("HARVESTER_REQUEST_TIMEOUT", &config.Crawler.RequestTimeout)
	setInt("HARVESTER_MAX_PAGES_PER_SUBJECT", &config.Crawler.MaxPagesPerSubject)
	setInt("HARVESTER_MAX_COURSES_PER_SUBJECT", &config.Crawler.MaxCoursesPerSubject)
	if seeds := os.Getenv("HARVESTER_SEEDS"); seeds != "" {
		if list := splitList(seeds); len(list) > 0 {
			config.Crawler.Seeds = list
		}
	}

	// Output configuration
	setString("HARVESTER_DOWNLOAD_DIR", &config.Output.DownloadDir)

	// Logging configuration
	setString("HARVESTER_LOG_LEVEL", &config.Logging.Level)
	if output := os.Getenv("HARVESTER_LOG_OUTPUT"); output != "" {
		if list := splitList(output); len(list) > 0 {
			config.Logging.Output = list
		}
	}

	setString("HARVESTER_SCHEDULE", &config.Schedule.Cron)
}

func setString(name string, target *string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

func setInt(name string, target *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func setBool(name string, target *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// setDuration only accepts values that parse as a duration
func setDuration(name string, target *string) {
	if v := os.Getenv(name); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			*target = v
		}
	}
}

func splitList(s string) []string {
	list := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}

// FlagOverrides carries CLI flag values; zero values mean "not set"
type FlagOverrides struct {
	NodeID      *int
	TotalNodes  *int
	Incremental *bool
	Force       *bool
	Concurrency *int
	MaxItems    *int
	FetchMode   string
	DownloadDir string
	LogLevel    string
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	// Command-line flags have highest priority
	if flags.NodeID != nil {
		config.Coordinator.NodeID = *flags.NodeID
	}
	if flags.TotalNodes != nil {
		config.Coordinator.TotalNodes = *flags.TotalNodes
	}
	if flags.Incremental != nil {
		config.Coordinator.Incremental = *flags.Incremental
	}
	if flags.Force != nil {
		config.Coordinator.ForceRefresh = *flags.Force
	}
	if flags.Concurrency != nil {
		config.Coordinator.MaxItemConcurrency = *flags.Concurrency
	}
	if flags.MaxItems != nil {
		config.Coordinator.MaxTotalItems = *flags.MaxItems
	}
	if flags.FetchMode != "" {
		config.Crawler.FetchMode = flags.FetchMode
	}
	if flags.DownloadDir != "" {
		config.Output.DownloadDir = flags.DownloadDir
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}
}

// Validate checks struct tags and the cross-field rules the tags cannot express
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Coordinator.NodeID >= c.Coordinator.TotalNodes {
		return fmt.Errorf("invalid configuration: node_id %d must be less than total_nodes %d",
			c.Coordinator.NodeID, c.Coordinator.TotalNodes)
	}
	if c.Storage.Ledger == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("invalid configuration: storage.postgres.dsn is required for the postgres ledger")
	}
	if c.Coordinator.TotalNodes > 1 && (c.Storage.Ledger == "badger" || c.Storage.Ledger == "memory") {
		return fmt.Errorf("invalid configuration: the %s ledger cannot be shared by %d nodes; use sqlite or postgres",
			c.Storage.Ledger, c.Coordinator.TotalNodes)
	}

	durations := map[string]string{
		"coordinator.retry_initial_backoff":  c.Coordinator.RetryInitialBackoff,
		"coordinator.retry_max_backoff":      c.Coordinator.RetryMaxBackoff,
		"coordinator.claim_timeout":          c.Coordinator.ClaimTimeout,
		"crawler.request_delay":              c.Crawler.RequestDelay,
		"crawler.request_timeout":            c.Crawler.RequestTimeout,
		"crawler.javascript_wait_time":       c.Crawler.JavaScriptWaitTime,
		"storage.postgres.conn_max_lifetime": c.Storage.Postgres.ConnMaxLifetime,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s: %w", name, err)
		}
	}

	if c.Schedule.Cron != "" {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid configuration: schedule.cron: %w", err)
		}
	}
	return nil
}

// ValidateSchedule validates a 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// ParseDuration parses a config duration, returning def for empty or malformed values
func ParseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
