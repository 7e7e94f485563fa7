// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/avenview/tally/internal/logging"
	"github.com/avenview/tally/internal/reconcile"
)

// PendingOutbox returns all unapplied ledger outbox entries, from a
// consistent point-in-time snapshot. Used by the retry loop; entries that
// vanish between the scan and the application attempt were applied
// concurrently, which ApplyLedgerDelta treats as a no-op.
func (s *Store) PendingOutbox(ctx context.Context) ([]*OutboxEntry, error) {
	var entries []*OutboxEntry
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixOutbox)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry OutboxEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("skipping malformed outbox entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// PendingOutboxCount counts unapplied entries without loading values.
func (s *Store) PendingOutboxCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixOutbox)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RecordOutboxFailure increments an entry's attempt count and stores the
// failure message. Called after a failed ledger application attempt. A
// missing entry is not an error: it was applied concurrently.
func (s *Store) RecordOutboxFailure(ctx context.Context, ref reconcile.OutboxRef, failure string, at time.Time) error {
	return s.update(ctx, "outbox_failure", func(txn *badger.Txn) error {
		key := outboxKey(ref.TenantID, ref.ExternalInvoiceID, ref.EntryID)
		var entry OutboxEntry
		found, err := getJSON(txn, key, &entry)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		entry.Attempts++
		entry.LastError = failure
		entry.LastAttemptAt = &at
		return setJSON(txn, key, &entry)
	})
}

// DeleteOutboxEntry permanently removes an entry without applying it.
// Used when an entry exhausts its retry budget; the abandoned delta is the
// caller's to surface for manual reconciliation.
func (s *Store) DeleteOutboxEntry(ctx context.Context, ref reconcile.OutboxRef) error {
	return s.update(ctx, "outbox_delete", func(txn *badger.Txn) error {
		err := txn.Delete(outboxKey(ref.TenantID, ref.ExternalInvoiceID, ref.EntryID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
