// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "empty store path", mutate: func(c *Config) { c.Store.Path = "" }, wantErr: true},
		{name: "zero txn retries", mutate: func(c *Config) { c.Store.TxnMaxRetries = 0 }, wantErr: true},
		{name: "gc ratio at one", mutate: func(c *Config) { c.Store.GCRatio = 1 }, wantErr: true},
		{name: "gc ratio negative", mutate: func(c *Config) { c.Store.GCRatio = -0.1 }, wantErr: true},
		{name: "zero scan interval", mutate: func(c *Config) { c.Outbox.ScanInterval = 0 }, wantErr: true},
		{name: "zero max attempts", mutate: func(c *Config) { c.Outbox.MaxAttempts = 0 }, wantErr: true},
		{name: "negative rate limit", mutate: func(c *Config) { c.Ingest.RateLimitRequests = -1 }, wantErr: true},
		{name: "rate limit disabled", mutate: func(c *Config) { c.Ingest.RateLimitRequests = 0 }},
		{name: "console log format", mutate: func(c *Config) { c.Logging.Format = "console" }},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerAddr(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8480}
	if got := c.Addr(); got != "127.0.0.1:8480" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8480", got)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "server port", key: "TALLY_SERVER_PORT", want: "server.port"},
		{name: "store path", key: "TALLY_STORE_PATH", want: "store.path"},
		{name: "outbox max attempts", key: "TALLY_OUTBOX_MAX_ATTEMPTS", want: "outbox.max_attempts"},
		{name: "log level", key: "LOG_LEVEL", want: "logging.level"},
		{name: "lowercase accepted", key: "tally_server_host", want: "server.host"},
		{name: "unmapped variable skipped", key: "PATH", want: ""},
		{name: "unknown tally variable skipped", key: "TALLY_SECRET_KEY", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := envTransformFunc(tt.key); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestLoadLayering(t *testing.T) {
	// File overrides defaults; environment overrides the file.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("server:\n  port: 9000\nstore:\n  path: /tmp/tally-test\noutbox:\n  max_attempts: 3\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TALLY_OUTBOX_MAX_ATTEMPTS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000 from the file", cfg.Server.Port)
	}
	if cfg.Store.Path != "/tmp/tally-test" {
		t.Errorf("Store.Path = %q, want /tmp/tally-test from the file", cfg.Store.Path)
	}
	if cfg.Outbox.MaxAttempts != 7 {
		t.Errorf("Outbox.MaxAttempts = %d, want the env override 7", cfg.Outbox.MaxAttempts)
	}
	// Untouched settings keep their defaults.
	if cfg.Outbox.ScanInterval != 15*time.Second {
		t.Errorf("Outbox.ScanInterval = %v, want the default 15s", cfg.Outbox.ScanInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want the default info", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)

	if _, err := Load(); err == nil {
		t.Error("Load should reject a config that fails validation")
	}
}
