// ABOUTME: Tests for YAML config loading
// ABOUTME: Covers defaults, env expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.HTTPAddr != ":4000" {
		t.Errorf("HTTPAddr: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Sessions.TTL != 7*24*time.Hour {
		t.Errorf("Sessions.TTL: got %v", cfg.Sessions.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9000"
database:
  path: /tmp/ll-test.db
sessions:
  ttl: 48h
  sweep_interval: 30m
chat:
  dedupe_ttl: 90s
  dedupe_max: 500
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "/tmp/ll-test.db" {
		t.Errorf("Database.Path: got %q", cfg.Database.Path)
	}
	if cfg.Sessions.TTL != 48*time.Hour {
		t.Errorf("Sessions.TTL: got %v", cfg.Sessions.TTL)
	}
	if cfg.Sessions.SweepInterval != 30*time.Minute {
		t.Errorf("Sessions.SweepInterval: got %v", cfg.Sessions.SweepInterval)
	}
	if cfg.Chat.DedupeTTL != 90*time.Second {
		t.Errorf("Chat.DedupeTTL: got %v", cfg.Chat.DedupeTTL)
	}
	if cfg.Chat.DedupeMax != 500 {
		t.Errorf("Chat.DedupeMax: got %d", cfg.Chat.DedupeMax)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "data/localloop.db" {
		t.Errorf("Database.Path default lost: got %q", cfg.Database.Path)
	}
	if cfg.Sessions.TTL != 7*24*time.Hour {
		t.Errorf("Sessions.TTL default lost: got %v", cfg.Sessions.TTL)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("LL_TEST_DB_PATH", "/tmp/expanded.db")

	path := writeConfig(t, `
database:
  path: ${LL_TEST_DB_PATH}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("env var not expanded: got %q", cfg.Database.Path)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
sessions:
  ttl: "one week"
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty http addr", func(c *Config) { c.Server.HTTPAddr = "" }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero ttl", func(c *Config) { c.Sessions.TTL = 0 }},
		{"zero sweep interval", func(c *Config) { c.Sessions.SweepInterval = 0 }},
		{"zero dedupe max", func(c *Config) { c.Chat.DedupeMax = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
