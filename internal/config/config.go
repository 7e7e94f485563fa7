// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

// Package config loads and validates Tally's configuration using koanf v2
// with layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the tallyd daemon.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Outbox  OutboxConfig  `koanf:"outbox"`
	Ingest  IngestConfig  `koanf:"ingest"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures the BadgerDB projection store.
type StoreConfig struct {
	// Path is the directory for the Badger database files.
	Path string `koanf:"path"`

	// SyncWrites forces fsync on every commit. Required in production:
	// a committed invoice write must survive a crash, otherwise the
	// ledger outbox could replay a delta the invoice no longer records.
	SyncWrites bool `koanf:"sync_writes"`

	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCRatio is the rewrite threshold passed to Badger's value-log GC.
	GCRatio float64 `koanf:"gc_ratio"`

	// CloseTimeout bounds how long Close waits for Badger to shut down.
	CloseTimeout time.Duration `koanf:"close_timeout"`

	// TxnMaxRetries is the number of times a conflicting transaction is
	// retried before the error is returned to the caller.
	TxnMaxRetries int `koanf:"txn_max_retries"`
}

// OutboxConfig configures the ledger outbox retry loop.
type OutboxConfig struct {
	// ScanInterval is how often pending entries are re-scanned.
	ScanInterval time.Duration `koanf:"scan_interval"`

	// MaxAttempts is the number of application attempts before an entry
	// is dead-lettered to the log for manual review.
	MaxAttempts int `koanf:"max_attempts"`

	// RetryBackoff is the base backoff between attempts for one entry;
	// actual backoff is RetryBackoff * 2^attempts, capped at 5 minutes.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// BreakerFailureThreshold is the number of consecutive failures that
	// opens the circuit breaker around ledger application.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`

	// BreakerOpenTimeout is how long the breaker stays open before
	// allowing a probe request.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// IngestConfig configures the webhook ingest endpoint.
type IngestConfig struct {
	// RateLimitRequests is the per-IP request budget per window.
	// Zero disables rate limiting.
	RateLimitRequests int `koanf:"rate_limit_requests"`

	// RateLimitWindow is the rate limit window duration.
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// MaxBodyBytes caps the accepted request body size.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.TxnMaxRetries < 1 {
		return fmt.Errorf("store.txn_max_retries must be at least 1, got %d", c.Store.TxnMaxRetries)
	}
	if c.Store.GCRatio <= 0 || c.Store.GCRatio >= 1 {
		return fmt.Errorf("store.gc_ratio must be between 0 and 1 exclusive, got %v", c.Store.GCRatio)
	}
	if c.Outbox.ScanInterval <= 0 {
		return fmt.Errorf("outbox.scan_interval must be positive, got %v", c.Outbox.ScanInterval)
	}
	if c.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("outbox.max_attempts must be at least 1, got %d", c.Outbox.MaxAttempts)
	}
	if c.Ingest.RateLimitRequests < 0 {
		return fmt.Errorf("ingest.rate_limit_requests must not be negative, got %d", c.Ingest.RateLimitRequests)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
