// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/avenview/tally/internal/reconcile"
)

// InvoiceRecord is the canonical invoice projection, one per
// (tenant, external invoice id). Created on the first event for an id,
// mutated in place on every subsequent event, never deleted.
//
// AmountPaid and AmountRefunded are monotonically non-decreasing across
// the record's lifetime; the projector refuses to regress them.
type InvoiceRecord struct {
	TenantID          string `json:"tenant_id"`
	ClientID          string `json:"client_id"`
	ExternalInvoiceID string `json:"external_invoice_id"`

	Status   reconcile.Status `json:"status"`
	Currency string           `json:"currency"`

	Total           decimal.Decimal `json:"total"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
	AmountRefunded  decimal.Decimal `json:"amount_refunded"`

	IssuedAt *time.Time `json:"issued_at,omitempty"`
	DueAt    *time.Time `json:"due_at,omitempty"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`

	HostedURL        string `json:"hosted_url,omitempty"`
	InvoiceNumber    string `json:"invoice_number,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	CollectionMethod string `json:"collection_method,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientSummary is the denormalized "last invoice" pointer on the client
// record, used by UI lists. Lazily created on the first qualifying event;
// only the client summary projector mutates it.
type ClientSummary struct {
	TenantID string `json:"tenant_id"`
	ClientID string `json:"client_id"`

	LastInvoiceStatus    reconcile.Status `json:"last_invoice_status"`
	LastInvoiceAmount    decimal.Decimal  `json:"last_invoice_amount"`
	LastInvoiceCurrency  string           `json:"last_invoice_currency"`
	LastInvoiceIssuedAt  *time.Time       `json:"last_invoice_issued_at,omitempty"`
	LastInvoiceNumber    string           `json:"last_invoice_number,omitempty"`
	LastInvoiceHostedURL string           `json:"last_invoice_hosted_url,omitempty"`
	LastInvoicePaidAt    *time.Time       `json:"last_invoice_paid_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is one period-bucketed revenue accumulator, keyed by
// (tenant, client, calendar month). Revenue equals the sum of all applied
// paid-minus-refunded deltas for invoices effective in the period.
// OperatingExpenses is carried for the reporting schema but never touched
// by this engine.
type LedgerEntry struct {
	TenantID  string `json:"tenant_id"`
	ClientID  string `json:"client_id"`
	PeriodKey string `json:"period_key"` // YYYY-MM
	Label     string `json:"label"`      // e.g. "January 2026"

	Revenue           decimal.Decimal `json:"revenue"`
	OperatingExpenses decimal.Decimal `json:"operating_expenses"`
	Currency          string          `json:"currency"`

	UpdatedAt time.Time `json:"updated_at"`
}

// OutboxEntry is one committed-but-unapplied ledger delta. Written in the
// same transaction as the invoice projection, deleted in the same
// transaction as the ledger increment, so its existence marks exactly the
// window where the delta is owed to the revenue bucket.
type OutboxEntry struct {
	EntryID           string `json:"entry_id"`
	TenantID          string `json:"tenant_id"`
	ClientID          string `json:"client_id"`
	ExternalInvoiceID string `json:"external_invoice_id"`

	DeltaPaid     decimal.Decimal `json:"delta_paid"`
	DeltaRefunded decimal.Decimal `json:"delta_refunded"`
	Currency      string          `json:"currency"`

	// EffectiveAt fixes the revenue period at enqueue time, so retries
	// bucket into the same month regardless of when they run.
	EffectiveAt time.Time `json:"effective_at"`
	PeriodKey   string    `json:"period_key"`

	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Net returns the entry's net revenue effect.
func (e *OutboxEntry) Net() decimal.Decimal {
	return e.DeltaPaid.Sub(e.DeltaRefunded)
}

// Ref returns the reference used to apply this entry.
func (e *OutboxEntry) Ref() reconcile.OutboxRef {
	return reconcile.OutboxRef{
		TenantID:          e.TenantID,
		ExternalInvoiceID: e.ExternalInvoiceID,
		EntryID:           e.EntryID,
		DeltaPaid:         e.DeltaPaid,
		DeltaRefunded:     e.DeltaRefunded,
	}
}

// PeriodKeyFor returns the YYYY-MM revenue bucket key for a timestamp.
func PeriodKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// periodLabel returns the human display label for a period.
func periodLabel(t time.Time) string {
	return t.UTC().Format("January 2006")
}
