// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete switchboard configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Resume     ResumeConfig     `yaml:"resume"`
	Cache      CacheConfig      `yaml:"cache"`
	Contacts   ContactsConfig   `yaml:"contacts"`
	Escalation EscalationConfig `yaml:"escalation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionsConfig holds conversation session timing configuration
type SessionsConfig struct {
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// ResumeConfig holds resume sweep configuration. Schedules use cron
// syntax; an empty schedule disables that sweep.
type ResumeConfig struct {
	Schedule        string `yaml:"schedule"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
	MaxRetries      int    `yaml:"max_retries"`

	StaleAfter time.Duration `yaml:"-"`
	MaxAge     time.Duration `yaml:"-"`
	RetainFor  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	StaleAfterRaw string `yaml:"stale_after"`
	MaxAgeRaw     string `yaml:"max_age"`
	RetainForRaw  string `yaml:"retain_for"`
}

// CacheConfig holds contact lookup cache configuration
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TTLRaw string `yaml:"ttl"`
}

// ContactsConfig holds the contact directory source
type ContactsConfig struct {
	CSVPath string `yaml:"csv_path"`
}

// EscalationConfig holds urgent-transfer configuration
type EscalationConfig struct {
	OnCallNumber string `yaml:"on_call_number"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with working defaults for every
// field except the database path, which has no sensible default.
func Default() *Config {
	return &Config{
		Sessions: SessionsConfig{
			Timeout: 24 * time.Hour,
		},
		Resume: ResumeConfig{
			MaxRetries: 3,
			StaleAfter: time.Hour,
			MaxAge:     time.Hour,
			RetainFor:  90 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			TTL:        5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Resume.MaxRetries < 0 {
		return fmt.Errorf("resume.max_retries must not be negative")
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sessions.timeout", cfg.Sessions.TimeoutRaw, &cfg.Sessions.Timeout},
		{"resume.stale_after", cfg.Resume.StaleAfterRaw, &cfg.Resume.StaleAfter},
		{"resume.max_age", cfg.Resume.MaxAgeRaw, &cfg.Resume.MaxAge},
		{"resume.retain_for", cfg.Resume.RetainForRaw, &cfg.Resume.RetainFor},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
