// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package store

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/avenview/tally/internal/reconcile"
)

// projectClientSummary conditionally overwrites the client's "last invoice"
// pointer inside the caller's transaction. Returns whether a write
// happened.
//
// Out-of-order resolution: an event for an older invoice must not clobber
// a summary already reflecting a newer one — unless the invoice numbers
// match, in which case the event is a later revision of the very invoice
// the summary points at and overwrites unconditionally.
func (s *Store) projectClientSummary(txn *badger.Txn, p reconcile.InvoiceProjection, rec *InvoiceRecord) (bool, error) {
	key := clientKey(p.TenantID, p.ClientID)

	var existing ClientSummary
	found, err := getJSON(txn, key, &existing)
	if err != nil {
		return false, err
	}

	var current *ClientSummary
	if found {
		current = &existing
	}
	if !shouldUpdateSummary(current, p.IssuedAt, p.InvoiceNumber) {
		return false, nil
	}

	summary := ClientSummary{
		TenantID:             p.TenantID,
		ClientID:             p.ClientID,
		LastInvoiceStatus:    p.Status,
		LastInvoiceAmount:    p.Total,
		LastInvoiceCurrency:  p.Currency,
		LastInvoiceIssuedAt:  p.IssuedAt,
		LastInvoiceNumber:    p.InvoiceNumber,
		LastInvoiceHostedURL: p.HostedURL,
		LastInvoicePaidAt:    rec.PaidAt,
		UpdatedAt:            p.Now,
	}
	if err := setJSON(txn, key, &summary); err != nil {
		return false, err
	}
	return true, nil
}

// shouldUpdateSummary decides whether an event overwrites the stored
// summary. Pure function of the stored summary and the event's issued
// timestamp and invoice number.
func shouldUpdateSummary(current *ClientSummary, issuedAt *time.Time, invoiceNumber string) bool {
	if current == nil {
		return true
	}

	// Same invoice number means a revision of the invoice already
	// summarized; always take the newer snapshot of it.
	if invoiceNumber != "" && invoiceNumber == current.LastInvoiceNumber {
		return true
	}

	if current.LastInvoiceIssuedAt == nil {
		return true
	}
	if issuedAt == nil {
		// No issued timestamp on the event and a different invoice in
		// the summary: treat as older, keep the summary.
		return false
	}
	return !issuedAt.Before(*current.LastInvoiceIssuedAt)
}

// GetClientSummary returns the summary for (tenant, client), or
// ErrNotFound.
func (s *Store) GetClientSummary(ctx context.Context, tenantID, clientID string) (*ClientSummary, error) {
	var summary ClientSummary
	err := s.view(ctx, func(txn *badger.Txn) error {
		found, err := getJSON(txn, clientKey(tenantID, clientID), &summary)
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
	return &summary, nil
}
