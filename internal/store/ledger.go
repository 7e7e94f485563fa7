// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/avenview/tally/internal/reconcile"
)

// ApplyLedgerDelta applies one committed delta to its revenue bucket. The
// increment and the outbox entry deletion commit in a single transaction:
// either the bucket grew and the entry is gone, or neither happened. A
// reference whose entry no longer exists was already applied and returns
// Applied=false with no error, which makes retries harmless.
//
// The increment itself is a conflict-detected read-add-write; concurrent
// invoices landing in the same period retry on conflict, so no update is
// lost. The delta comes from the stored entry, never recomputed.
func (s *Store) ApplyLedgerDelta(ctx context.Context, ref reconcile.OutboxRef) (reconcile.LedgerApplyResult, error) {
	var res reconcile.LedgerApplyResult
	err := s.update(ctx, "apply_ledger", func(txn *badger.Txn) error {
		res = reconcile.LedgerApplyResult{}

		obKey := outboxKey(ref.TenantID, ref.ExternalInvoiceID, ref.EntryID)
		var entry OutboxEntry
		found, err := getJSON(txn, obKey, &entry)
		if err != nil {
			return err
		}
		if !found {
			// Already applied by an earlier attempt.
			return nil
		}

		key := ledgerKey(entry.TenantID, entry.ClientID, entry.PeriodKey)
		var bucket LedgerEntry
		bucketFound, err := getJSON(txn, key, &bucket)
		if err != nil {
			return err
		}
		if !bucketFound {
			bucket = LedgerEntry{
				TenantID:  entry.TenantID,
				ClientID:  entry.ClientID,
				PeriodKey: entry.PeriodKey,
				Label:     periodLabel(entry.EffectiveAt),
				Currency:  entry.Currency,
			}
		}

		bucket.Revenue = bucket.Revenue.Add(entry.Net())
		bucket.UpdatedAt = entry.EffectiveAt
		if err := setJSON(txn, key, &bucket); err != nil {
			return err
		}

		if err := txn.Delete(obKey); err != nil {
			return fmt.Errorf("delete outbox entry: %w", err)
		}

		res.Applied = true
		res.PeriodKey = entry.PeriodKey
		res.Net = entry.Net()
		return nil
	})
	if err != nil {
		return reconcile.LedgerApplyResult{}, err
	}
	return res, nil
}

// GetLedgerEntry returns the revenue bucket for (tenant, client, period),
// or ErrNotFound.
func (s *Store) GetLedgerEntry(ctx context.Context, tenantID, clientID, periodKey string) (*LedgerEntry, error) {
	var entry LedgerEntry
	err := s.view(ctx, func(txn *badger.Txn) error {
		found, err := getJSON(txn, ledgerKey(tenantID, clientID, periodKey), &entry)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListLedger returns all revenue buckets for a tenant, optionally filtered
// to one client, ordered by key (client, then period).
func (s *Store) ListLedger(ctx context.Context, tenantID, clientID string) ([]*LedgerEntry, error) {
	if err := sanitizeKeyPart(tenantID); err != nil {
		return nil, fmt.Errorf("tenant id: %w", err)
	}

	prefix := []byte(prefixLedger + tenantID + ":")
	if clientID != "" {
		prefix = []byte(prefixLedger + tenantID + ":" + clientID + ":")
	}

	var entries []*LedgerEntry
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry LedgerEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("unmarshal ledger entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
