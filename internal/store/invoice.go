// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avenview/tally/internal/reconcile"
)

// ProjectInvoice performs the atomic read-modify-write for one event: it
// reads the previous cumulative amounts, computes the monotonic deltas
// against them, writes the new invoice snapshot, conditionally updates the
// client summary, and enqueues a ledger outbox entry when the net delta is
// non-zero — all in a single transaction.
//
// The previous amounts are read inside the same transaction that
// overwrites them. Two concurrent deliveries for the same invoice id
// conflict under Badger's snapshot isolation; the loser retries and
// re-reads the winner's amounts, so both can never compute first-observer
// deltas against the same stale snapshot.
func (s *Store) ProjectInvoice(ctx context.Context, p reconcile.InvoiceProjection) (*reconcile.ProjectionResult, error) {
	if err := sanitizeKeyPart(p.TenantID); err != nil {
		return nil, fmt.Errorf("tenant id: %w", err)
	}
	if err := sanitizeKeyPart(p.ExternalInvoiceID); err != nil {
		return nil, fmt.Errorf("external invoice id: %w", err)
	}
	if err := sanitizeKeyPart(p.ClientID); err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}

	var res reconcile.ProjectionResult
	err := s.update(ctx, "project_invoice", func(txn *badger.Txn) error {
		// The closure re-runs on conflict; start from a clean result.
		res = reconcile.ProjectionResult{}

		key := invoiceKey(p.TenantID, p.ExternalInvoiceID)
		var rec InvoiceRecord
		found, err := getJSON(txn, key, &rec)
		if err != nil {
			return err
		}

		prevPaid := decimal.Zero
		prevRefunded := decimal.Zero
		if found {
			prevPaid = rec.AmountPaid
			prevRefunded = rec.AmountRefunded
		} else {
			rec = InvoiceRecord{
				TenantID:          p.TenantID,
				ClientID:          p.ClientID,
				ExternalInvoiceID: p.ExternalInvoiceID,
				CreatedAt:         p.Now,
			}
			res.Created = true
		}
		res.PrevPaid = prevPaid
		res.PrevRefunded = prevRefunded

		res.Deltas = reconcile.ComputeDeltas(prevPaid, prevRefunded, p.Paid, p.Refunded)

		applySnapshot(&rec, p, prevPaid, prevRefunded)
		if err := setJSON(txn, key, &rec); err != nil {
			return err
		}

		updated, err := s.projectClientSummary(txn, p, &rec)
		if err != nil {
			return err
		}
		res.SummaryUpdated = updated

		// Pure-refund or redelivered events with no net change create no
		// outbox entry and therefore no empty ledger buckets.
		if res.Deltas.Net().IsZero() {
			return nil
		}

		entry := OutboxEntry{
			EntryID:           uuid.New().String(),
			TenantID:          p.TenantID,
			ClientID:          p.ClientID,
			ExternalInvoiceID: p.ExternalInvoiceID,
			DeltaPaid:         res.Deltas.Paid,
			DeltaRefunded:     res.Deltas.Refunded,
			Currency:          p.Currency,
			EffectiveAt:       effectiveDate(&rec, p),
			CreatedAt:         p.Now,
		}
		entry.PeriodKey = PeriodKeyFor(entry.EffectiveAt)

		obKey := outboxKey(entry.TenantID, entry.ExternalInvoiceID, entry.EntryID)
		if err := setJSON(txn, obKey, &entry); err != nil {
			return err
		}
		ref := entry.Ref()
		res.Outbox = &ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// applySnapshot folds the incoming projection into the record. Monetary
// fields never regress: the stored amount is the maximum of the previous
// and incoming cumulative values.
func applySnapshot(rec *InvoiceRecord, p reconcile.InvoiceProjection, prevPaid, prevRefunded decimal.Decimal) {
	rec.ClientID = p.ClientID
	rec.Status = p.Status
	rec.Currency = p.Currency
	rec.Total = p.Total
	rec.AmountPaid = decimal.Max(prevPaid, p.Paid)

	if p.Refunded != nil {
		rec.AmountRefunded = decimal.Max(prevRefunded, *p.Refunded)
	} else {
		rec.AmountRefunded = prevRefunded
	}

	if p.Remaining != nil {
		rec.AmountRemaining = *p.Remaining
	} else {
		rec.AmountRemaining = decimal.Max(p.Total.Sub(rec.AmountPaid), decimal.Zero)
	}

	if p.IssuedAt != nil {
		rec.IssuedAt = p.IssuedAt
	}
	rec.DueAt = p.DueAt
	if p.Status == reconcile.StatusPaid && rec.PaidAt == nil {
		now := p.Now
		rec.PaidAt = &now
	}

	if p.HostedURL != "" {
		rec.HostedURL = p.HostedURL
	}
	if p.InvoiceNumber != "" {
		rec.InvoiceNumber = p.InvoiceNumber
	}
	if p.PaymentReference != "" {
		rec.PaymentReference = p.PaymentReference
	}
	if p.CollectionMethod != "" {
		rec.CollectionMethod = p.CollectionMethod
	}
	rec.UpdatedAt = p.Now
}

// effectiveDate is the revenue recognition date for the event's delta:
// the invoice's paid date when known, otherwise now.
func effectiveDate(rec *InvoiceRecord, p reconcile.InvoiceProjection) time.Time {
	if rec.PaidAt != nil {
		return *rec.PaidAt
	}
	return p.Now
}

// GetInvoice returns the invoice record for (tenant, external invoice id),
// or ErrNotFound.
func (s *Store) GetInvoice(ctx context.Context, tenantID, externalInvoiceID string) (*InvoiceRecord, error) {
	var rec InvoiceRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		found, err := getJSON(txn, invoiceKey(tenantID, externalInvoiceID), &rec)
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
	return &rec, nil
}
