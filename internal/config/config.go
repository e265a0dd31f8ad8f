// ABOUTME: Configuration loading and parsing for localloop-server
// ABOUTME: YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete localloop-server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sessions SessionsConfig `yaml:"sessions"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionsConfig holds session lifetime configuration
type SessionsConfig struct {
	TTL           time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TTLRaw           string `yaml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ChatConfig holds chat-core tuning
type ChatConfig struct {
	DedupeTTL time.Duration `yaml:"-"`
	DedupeMax int           `yaml:"dedupe_max"`

	DedupeTTLRaw string `yaml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":4000",
		},
		Database: DatabaseConfig{
			Path: "data/localloop.db",
		},
		Sessions: SessionsConfig{
			TTL:           7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Chat: ChatConfig{
			DedupeTTL: 5 * time.Minute,
			DedupeMax: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file, expanding ${ENV_VAR}
// references and parsing duration fields. Missing fields keep defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} references
var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnv replaces ${VAR} with the environment value; unset vars become empty
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// parseDurations converts raw duration strings into time.Duration fields
func (c *Config) parseDurations() error {
	if c.Sessions.TTLRaw != "" {
		d, err := time.ParseDuration(c.Sessions.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.ttl: %w", err)
		}
		c.Sessions.TTL = d
	}
	if c.Sessions.SweepIntervalRaw != "" {
		d, err := time.ParseDuration(c.Sessions.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.sweep_interval: %w", err)
		}
		c.Sessions.SweepInterval = d
	}
	if c.Chat.DedupeTTLRaw != "" {
		d, err := time.ParseDuration(c.Chat.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing chat.dedupe_ttl: %w", err)
		}
		c.Chat.DedupeTTL = d
	}
	return nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("sessions.sweep_interval must be positive")
	}
	if c.Chat.DedupeMax <= 0 {
		return fmt.Errorf("chat.dedupe_max must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
