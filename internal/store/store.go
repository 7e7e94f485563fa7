// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

// Package store persists the three financial projections in BadgerDB:
// canonical invoice records, per-client summaries, and period-bucketed
// revenue ledger entries, plus the ledger outbox that carries committed
// deltas to the revenue buckets.
//
// Badger transactions span keys, so one event's invoice write, client
// summary write, and outbox enqueue commit atomically. Serializable
// snapshot isolation detects write conflicts between concurrent deliveries
// for the same invoice id; conflicting transactions are retried, which
// guarantees the second delivery re-reads the amounts the first one wrote.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/avenview/tally/internal/logging"
	"github.com/avenview/tally/internal/metrics"
)

// Key prefixes for the projection namespaces.
const (
	prefixInvoice = "invoice:"
	prefixClient  = "client:"
	prefixLedger  = "ledger:"
	prefixOutbox  = "outbox:"
)

// Errors returned by the store.
var (
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrMissingKey is returned when a caller omits a key component.
	ErrMissingKey = errors.New("tenant and record identifiers are required")
)

// Config holds store configuration.
type Config struct {
	// Path is the Badger database directory. Ignored when InMemory is set.
	Path string

	// SyncWrites forces fsync on every commit.
	SyncWrites bool

	// GCRatio is the rewrite threshold for value-log garbage collection.
	GCRatio float64

	// CloseTimeout bounds how long Close waits for Badger.
	CloseTimeout time.Duration

	// TxnMaxRetries is the retry budget for conflicting transactions.
	TxnMaxRetries int

	// InMemory opens an ephemeral database, for tests.
	InMemory bool
}

// Store is the BadgerDB-backed projection store.
type Store struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool
}

// Open creates a Store at the configured path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.TxnMaxRetries < 1 {
		cfg.TxnMaxRetries = 5
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.InMemory = cfg.InMemory
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	// Badger's own logger is noisy; everything relevant surfaces through
	// our structured logs.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Bool("in_memory", cfg.InMemory).
		Msg("projection store opened")

	return &Store{db: db, cfg: cfg}, nil
}

// OpenForTesting opens an ephemeral in-memory store.
func OpenForTesting() (*Store, error) {
	return Open(Config{InMemory: true, TxnMaxRetries: 5})
}

// Close gracefully shuts down the store, bounded by CloseTimeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.cfg.CloseTimeout
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("projection store closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}

// RunGC triggers value-log garbage collection until no further rewrite is
// possible. Called periodically by the daemon.
func (s *Store) RunGC() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	for {
		err := s.db.RunValueLogGC(s.cfg.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// checkOpen returns ErrStoreClosed after Close.
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on write conflict.
// fn must be idempotent across retries: it re-reads everything it depends
// on inside the transaction.
func (s *Store) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		metrics.RecordStoreTxn(op, time.Since(start))
	}()

	var err error
	for attempt := 0; attempt < s.cfg.TxnMaxRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		metrics.RecordTxnRetry(op)
	}
	return fmt.Errorf("transaction conflict persisted after %d attempts: %w", s.cfg.TxnMaxRetries, err)
}

// view runs fn in a read-only snapshot transaction.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// getJSON reads and unmarshals the value at key. Returns false when the
// key does not exist.
func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	}); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// setJSON marshals and writes v at key.
func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Key builders. Tenant and record identifiers are opaque strings from the
// platform's identity scheme; colons inside them would corrupt the key
// layout, so they are rejected at the boundary by sanitizeKeyPart.

func invoiceKey(tenantID, externalInvoiceID string) []byte {
	return []byte(prefixInvoice + tenantID + ":" + externalInvoiceID)
}

func clientKey(tenantID, clientID string) []byte {
	return []byte(prefixClient + tenantID + ":" + clientID)
}

func ledgerKey(tenantID, clientID, periodKey string) []byte {
	return []byte(prefixLedger + tenantID + ":" + clientID + ":" + periodKey)
}

func outboxKey(tenantID, externalInvoiceID, entryID string) []byte {
	return []byte(prefixOutbox + tenantID + ":" + externalInvoiceID + ":" + entryID)
}

// sanitizeKeyPart validates a key component.
func sanitizeKeyPart(part string) error {
	if part == "" {
		return ErrMissingKey
	}
	if strings.ContainsRune(part, ':') {
		return fmt.Errorf("identifier %q contains a reserved character", part)
	}
	return nil
}
