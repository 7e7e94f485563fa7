// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tally/config.yaml",
	"/etc/tally/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path:          "/data/tally",
			SyncWrites:    true,
			GCInterval:    10 * time.Minute,
			GCRatio:       0.5,
			CloseTimeout:  30 * time.Second,
			TxnMaxRetries: 5,
		},
		Outbox: OutboxConfig{
			ScanInterval:            15 * time.Second,
			MaxAttempts:             10,
			RetryBackoff:            2 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Ingest: IngestConfig{
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
			MaxBodyBytes:      1 << 20, // 1MB
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// TALLY_SERVER_PORT -> server.port
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, env var override first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment variables do not
// pollute the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"tally_server_host":             "server.host",
		"tally_server_port":             "server.port",
		"tally_server_read_timeout":     "server.read_timeout",
		"tally_server_write_timeout":    "server.write_timeout",
		"tally_server_shutdown_timeout": "server.shutdown_timeout",

		"tally_store_path":            "store.path",
		"tally_store_sync_writes":     "store.sync_writes",
		"tally_store_gc_interval":     "store.gc_interval",
		"tally_store_gc_ratio":        "store.gc_ratio",
		"tally_store_close_timeout":   "store.close_timeout",
		"tally_store_txn_max_retries": "store.txn_max_retries",

		"tally_outbox_scan_interval":     "outbox.scan_interval",
		"tally_outbox_max_attempts":      "outbox.max_attempts",
		"tally_outbox_retry_backoff":     "outbox.retry_backoff",
		"tally_outbox_breaker_threshold": "outbox.breaker_failure_threshold",
		"tally_outbox_breaker_timeout":   "outbox.breaker_open_timeout",

		"tally_ingest_rate_limit_requests": "ingest.rate_limit_requests",
		"tally_ingest_rate_limit_window":   "ingest.rate_limit_window",
		"tally_ingest_max_body_bytes":      "ingest.max_body_bytes",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
