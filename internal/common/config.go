package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Timezone    string           `toml:"timezone"`    // Fixed reporting timezone for schedules and day boundaries
	Storage     StorageConfig    `toml:"storage"`
	BrightData  BrightDataConfig `toml:"brightdata"`
	Claude      ClaudeConfig     `toml:"claude"`
	Gemini      GeminiConfig     `toml:"gemini"`
	LLM         LLMConfig        `toml:"llm"`
	Workers     WorkersConfig    `toml:"workers"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Media       MediaConfig      `toml:"media"`
	Logging     LoggingConfig    `toml:"logging"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig configures the relational job store
type SQLiteConfig struct {
	Path          string `toml:"path" validate:"required"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode"`
}

// BadgerConfig configures the derived-summary cache
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// BrightDataConfig configures the content-acquisition provider
type BrightDataConfig struct {
	BaseURL   string                `toml:"base_url"`
	APIToken  string                `toml:"api_token"`
	RateLimit int                   `toml:"rate_limit"` // Requests per second against the provider API
	Datasets  BrightDataDatasetsMap `toml:"datasets"`
}

// BrightDataDatasetsMap maps collection subtasks to provider dataset IDs
type BrightDataDatasetsMap struct {
	Profile   string `toml:"profile"`
	Posts     string `toml:"posts"`
	Reels     string `toml:"reels"`
	ReelStats string `toml:"reel_stats"`
}

type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	Timeout   string `toml:"timeout"` // e.g. "120s"
}

type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// LLMConfig selects the classification provider and prompt variants
type LLMConfig struct {
	DefaultProvider string            `toml:"default_provider" validate:"omitempty,oneof=claude gemini"`
	Prompts         map[string]string `toml:"prompts"` // Prompt variant name -> system prompt text
}

// WorkersConfig tunes the background worker loops
type WorkersConfig struct {
	CollectionBatchSize int           `toml:"collection_batch_size"` // Jobs claimed and run concurrently per iteration
	IdleDelay           time.Duration `toml:"idle_delay"`            // Sleep when no pending jobs
	ErrorBackoff        time.Duration `toml:"error_backoff"`         // Sleep after a loop-level error
	OrphanThreshold     time.Duration `toml:"orphan_threshold"`      // Processing jobs older than this are swept back to pending
	StopTimeout         time.Duration `toml:"stop_timeout"`          // Bounded wait for graceful shutdown
	ClassifyPacing      time.Duration `toml:"classify_pacing"`       // Delay between per-item classification calls
}

type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
}

// MediaConfig configures opportunistic media persistence to object storage
type MediaConfig struct {
	Enabled bool   `toml:"enabled"`
	Bucket  string `toml:"bucket"`
	Region  string `toml:"region"`
	BaseURL string `toml:"base_url"` // Public URL prefix for uploaded objects
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns the configuration defaults applied before file and
// environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Timezone:    "Asia/Bangkok",
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/colligo.db",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
			Badger: BadgerConfig{
				Path: "./data/cache",
			},
		},
		BrightData: BrightDataConfig{
			BaseURL:   "https://api.brightdata.com",
			RateLimit: 5,
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
			Timeout:   "120s",
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			Prompts:         map[string]string{},
		},
		Workers: WorkersConfig{
			CollectionBatchSize: 3,
			IdleDelay:           5 * time.Second,
			ErrorBackoff:        10 * time.Second,
			OrphanThreshold:     5 * time.Minute,
			StopTimeout:         30 * time.Second,
			ClassifyPacing:      1 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Media: MediaConfig{
			Region: "ap-southeast-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadConfig loads configuration in priority order:
// defaults -> config files (later files override earlier) -> environment.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies COLLIGO_* environment variables on top of the
// loaded configuration. Only operational knobs are exposed this way.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COLLIGO_ENVIRONMENT"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("COLLIGO_TIMEZONE"); v != "" {
		config.Timezone = v
	}
	if v := os.Getenv("COLLIGO_SQLITE_PATH"); v != "" {
		config.Storage.SQLite.Path = v
	}
	if v := os.Getenv("COLLIGO_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("BRIGHTDATA_API_TOKEN"); v != "" {
		config.BrightData.APIToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("COLLIGO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("COLLIGO_MEDIA_BUCKET"); v != "" {
		config.Media.Bucket = v
		config.Media.Enabled = true
	}
	if v := os.Getenv("COLLIGO_COLLECTION_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Workers.CollectionBatchSize = n
		}
	}
}

// Validate checks the configuration for structural problems
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.Workers.CollectionBatchSize < 1 {
		return fmt.Errorf("workers.collection_batch_size must be at least 1")
	}

	return nil
}

// Location returns the fixed reporting timezone. Validate guarantees the
// timezone parses, so failures here fall back to UTC rather than erroring.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
