package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Secrets are usually supplied through the environment
// (see ApplyEnv) rather than written to the file.

const (
	CacheBackendDisk  = "disk"
	CacheBackendRedis = "redis"
	CacheBackendNone  = "none"

	UsageLogNone     = "none"
	UsageLogPostgres = "postgres"
	UsageLogSQLite   = "sqlite"
	UsageLogMongo    = "mongo"
)

// CalendarConfig controls how ICS feeds are fetched and resolved.
type CalendarConfig struct {
	// FetchTimeout bounds a single ICS download.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	// ExpandRecurrences resolves RRULE/EXDATE/RECURRENCE-ID into concrete
	// busy instances. When false only the base instance of each VEVENT counts.
	ExpandRecurrences bool `yaml:"expand_recurrences" json:"expand_recurrences"`
	// MaxOccurrencesPerEvent caps recurrence expansion per UID.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`
}

// CacheConfig selects where fetched ICS bodies and their ETag/Last-Modified
// metadata are kept between requests.
type CacheConfig struct {
	// Backend is one of "disk", "redis" or "none".
	Backend string `yaml:"backend" json:"backend"`
	// Dir is the base directory for the disk backend.
	Dir string `yaml:"dir" json:"dir"`
	// MaxAge is how long a cached feed is kept (disk prune / redis TTL).
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
	// PruneCron is a cron-style schedule (e.g. "0 * * * *") for disk pruning.
	PruneCron string `yaml:"prune_cron" json:"prune_cron"`

	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password,omitempty" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
}

// AssistantConfig configures the LLM that turns raw gaps into the final text.
type AssistantConfig struct {
	Provider    string        `yaml:"provider" json:"provider"`
	APIKey      string        `yaml:"api_key,omitempty" json:"-"`
	Model       string        `yaml:"model" json:"model"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// UsageLogConfig selects the append-only usage log store.
type UsageLogConfig struct {
	// Driver is one of "none", "postgres", "sqlite" or "mongo".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn,omitempty" json:"-"`
	// Database is the mongo database name (ignored by SQL drivers).
	Database string `yaml:"database" json:"database"`
	// Timeout bounds a single write.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig is applied per client IP on /api/* routes.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int `yaml:"burst" json:"burst"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// Development switches the logger to the console encoder.
	Development bool `yaml:"development" json:"development"`

	// HorizonDays is the number of days (today included) scanned for free windows.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Calendar  CalendarConfig  `yaml:"calendar" json:"calendar"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Assistant AssistantConfig `yaml:"assistant" json:"assistant"`
	UsageLog  UsageLogConfig  `yaml:"usage_log" json:"usage_log"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		LogLevel:    "info",
		HorizonDays: 30,
		Calendar: CalendarConfig{
			FetchTimeout:           15 * time.Second,
			ExpandRecurrences:      true,
			MaxOccurrencesPerEvent: 5000,
		},
		Cache: CacheConfig{
			Backend:   CacheBackendDisk,
			Dir:       "./var/ics-cache",
			MaxAge:    24 * time.Hour,
			PruneCron: "0 * * * *",
			RedisAddr: "localhost:6379",
		},
		Assistant: AssistantConfig{
			Provider:    "gemini",
			Model:       "gemini-1.5-flash",
			Temperature: 0,
			Timeout:     30 * time.Second,
		},
		UsageLog: UsageLogConfig{
			Driver:   UsageLogNone,
			Database: "freeslots",
			Timeout:  5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 20,
			Burst:             5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}

	if c.Calendar.FetchTimeout <= 0 {
		c.Calendar.FetchTimeout = def.Calendar.FetchTimeout
	}
	if c.Calendar.MaxOccurrencesPerEvent <= 0 {
		c.Calendar.MaxOccurrencesPerEvent = def.Calendar.MaxOccurrencesPerEvent
	}

	switch c.Cache.Backend {
	case CacheBackendDisk, CacheBackendRedis, CacheBackendNone:
		// ok
	default:
		// Unknown value; fall back to disk so fetches still get cached.
		c.Cache.Backend = CacheBackendDisk
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = def.Cache.Dir
	}
	if c.Cache.MaxAge <= 0 {
		c.Cache.MaxAge = def.Cache.MaxAge
	}
	if c.Cache.PruneCron == "" {
		c.Cache.PruneCron = def.Cache.PruneCron
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = def.Cache.RedisAddr
	}

	if c.Assistant.Provider == "" {
		c.Assistant.Provider = def.Assistant.Provider
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = def.Assistant.Model
	}
	if c.Assistant.Timeout <= 0 {
		c.Assistant.Timeout = def.Assistant.Timeout
	}

	switch c.UsageLog.Driver {
	case UsageLogNone, UsageLogPostgres, UsageLogSQLite, UsageLogMongo:
		// ok
	default:
		c.UsageLog.Driver = UsageLogNone
	}
	if c.UsageLog.Database == "" {
		c.UsageLog.Database = def.UsageLog.Database
	}
	if c.UsageLog.Timeout <= 0 {
		c.UsageLog.Timeout = def.UsageLog.Timeout
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = def.RateLimit.RequestsPerMinute
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
}

// ApplyEnv overrides selected fields from the process environment. Values
// that are unset or empty leave the file configuration untouched.
//
//	FREESLOTS_LISTEN, GEMINI_API_KEY, USAGE_LOG_DSN, REDIS_ADDR, REDIS_PASSWORD
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("FREESLOTS_LISTEN", &c.Listen)
	set("FREESLOTS_LOG_LEVEL", &c.LogLevel)
	set("GEMINI_API_KEY", &c.Assistant.APIKey)
	set("USAGE_LOG_DSN", &c.UsageLog.DSN)
	set("REDIS_ADDR", &c.Cache.RedisAddr)
	set("REDIS_PASSWORD", &c.Cache.RedisPassword)

	if v, ok := lookup("REDIS_DB"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.RedisDB = n
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Start from defaults so booleans absent from the file keep their
	// default value (e.g. expand_recurrences).
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".freeslots-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
