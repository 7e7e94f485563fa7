// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avenview/tally/internal/logging"
	"github.com/avenview/tally/internal/metrics"
	"github.com/avenview/tally/internal/money"
)

// InvoiceProjection is the normalized, resolved write the orchestrator
// hands to the projection store for one event.
type InvoiceProjection struct {
	TenantID          string
	ClientID          string
	ExternalInvoiceID string

	Status   Status
	Currency string

	Total     decimal.Decimal
	Paid      decimal.Decimal
	Remaining *decimal.Decimal // nil: derive as max(total-paid, 0)
	Refunded  *decimal.Decimal // nil: refund total not reported this event

	IssuedAt *time.Time
	DueAt    *time.Time
	Now      time.Time

	HostedURL        string
	InvoiceNumber    string
	PaymentReference string
	CollectionMethod string
}

// OutboxRef identifies one pending ledger delta. An entry exists exactly
// while its delta is unapplied: the invoice transaction creates it, and the
// ledger transaction increments the bucket and deletes it atomically, so a
// retried application for the same committed delta either finds the entry
// or finds nothing to do.
type OutboxRef struct {
	TenantID          string
	ExternalInvoiceID string
	EntryID           string
	DeltaPaid         decimal.Decimal
	DeltaRefunded     decimal.Decimal
}

// ProjectionResult reports what the invoice transaction changed.
type ProjectionResult struct {
	// Created is true when no record existed for the external invoice id.
	Created bool

	// PrevPaid and PrevRefunded are the cumulative amounts read inside
	// the same transaction that wrote the new snapshot.
	PrevPaid     decimal.Decimal
	PrevRefunded decimal.Decimal

	// Deltas are the monotonic deltas computed against PrevPaid and
	// PrevRefunded.
	Deltas Deltas

	// SummaryUpdated is true when the client summary was overwritten.
	SummaryUpdated bool

	// Outbox references the ledger delta enqueued by the transaction,
	// nil when the net delta rounds to zero.
	Outbox *OutboxRef
}

// LedgerApplyResult reports the outcome of one ledger delta application.
type LedgerApplyResult struct {
	// Applied is false when the referenced outbox entry no longer
	// exists, meaning the delta was already applied.
	Applied bool

	// PeriodKey is the YYYY-MM revenue bucket that was incremented.
	PeriodKey string

	// Net is the net amount added to the bucket.
	Net decimal.Decimal
}

// ProjectionStore is the transactional store contract the orchestrator
// drives. ProjectInvoice must execute its read-modify-write atomically per
// (tenant, external invoice id); ApplyLedgerDelta must be idempotent given
// the same outbox reference.
type ProjectionStore interface {
	ProjectInvoice(ctx context.Context, p InvoiceProjection) (*ProjectionResult, error)
	ApplyLedgerDelta(ctx context.Context, ref OutboxRef) (LedgerApplyResult, error)
}

// Outcome classifies the handling of one event.
type Outcome string

const (
	// OutcomeReconciled means the event was folded into the projections.
	OutcomeReconciled Outcome = "reconciled"
	// OutcomeDiscarded means the event was acknowledged without any
	// mutation, because required metadata was missing.
	OutcomeDiscarded Outcome = "discarded"
)

// Result summarizes what one event changed, for the caller's observability.
type Result struct {
	Outcome        Outcome         `json:"outcome"`
	DiscardReason  string          `json:"discard_reason,omitempty"`
	Status         Status          `json:"status,omitempty"`
	InvoiceCreated bool            `json:"invoice_created"`
	SummaryUpdated bool            `json:"summary_updated"`
	DeltaPaid      decimal.Decimal `json:"delta_paid"`
	DeltaRefunded  decimal.Decimal `json:"delta_refunded"`
	NetDelta       decimal.Decimal `json:"net_delta"`
	LedgerApplied  bool            `json:"ledger_applied"`
	LedgerPending  bool            `json:"ledger_pending"`
	PeriodKey      string          `json:"period_key,omitempty"`
}

// Orchestrator sequences the projectors for one validated event: pure
// normalization and state resolution first, then the atomic invoice and
// summary transaction, then the ledger delta application.
type Orchestrator struct {
	store ProjectionStore
	clock Clock
}

// NewOrchestrator creates an Orchestrator over the given store and clock.
func NewOrchestrator(store ProjectionStore, clock Clock) *Orchestrator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Orchestrator{store: store, clock: clock}
}

// Reconcile folds one event into the projections and returns a summary of
// what changed.
//
// A returned error means the invoice transaction did not commit; the caller
// should fail the webhook acknowledgment so the provider redelivers, which
// is safe by idempotency. A failed ledger application after a committed
// invoice write is NOT an error: the delta is durable in the outbox and the
// retry loop completes it, reusing the already-computed delta.
func (o *Orchestrator) Reconcile(ctx context.Context, ev *Event) (*Result, error) {
	start := time.Now()

	if !ev.HasIdentity() {
		logging.Warn().
			Str("external_invoice_id", ev.ExternalInvoiceID).
			Str("tenant_id", ev.TenantID).
			Str("client_id", ev.ClientID).
			Msg("event missing tenant/client metadata, acknowledged without processing")
		metrics.RecordReconcile("discarded", time.Since(start))
		return &Result{
			Outcome:       OutcomeDiscarded,
			DiscardReason: "missing tenant or client metadata",
		}, nil
	}

	now := o.clock.Now()
	proj := InvoiceProjection{
		TenantID:          ev.TenantID,
		ClientID:          ev.ClientID,
		ExternalInvoiceID: ev.ExternalInvoiceID,
		Status:            ResolveStatus(ev.RawStatus, ev.DueAt(), now),
		Currency:          ev.CurrencyCode,
		Total:             money.FromMinorUnitsOrZero(ev.TotalMinorUnits),
		Paid:              money.FromMinorUnitsOrZero(ev.PaidMinorUnits),
		Remaining:         money.FromMinorUnits(ev.RemainingMinorUnits),
		Refunded:          money.FromMinorUnits(ev.RefundedMinorUnits),
		IssuedAt:          ev.IssuedAt(),
		DueAt:             ev.DueAt(),
		Now:               now,
		HostedURL:         ev.HostedURL,
		InvoiceNumber:     ev.InvoiceNumber,
		PaymentReference:  ev.PaymentReference,
		CollectionMethod:  ev.CollectionMethod,
	}

	res, err := o.store.ProjectInvoice(ctx, proj)
	if err != nil {
		metrics.RecordReconcile("failed", time.Since(start))
		return nil, fmt.Errorf("project invoice %s/%s: %w", ev.TenantID, ev.ExternalInvoiceID, err)
	}

	o.surfaceRegressions(ev, res)

	result := &Result{
		Outcome:        OutcomeReconciled,
		Status:         proj.Status,
		InvoiceCreated: res.Created,
		SummaryUpdated: res.SummaryUpdated,
		DeltaPaid:      res.Deltas.Paid,
		DeltaRefunded:  res.Deltas.Refunded,
		NetDelta:       res.Deltas.Net(),
	}

	if res.Outbox != nil {
		applied, applyErr := o.store.ApplyLedgerDelta(ctx, *res.Outbox)
		if applyErr != nil {
			// The invoice write is durable and the delta sits in the
			// outbox; the retry loop finishes the job.
			logging.Warn().Err(applyErr).
				Str("tenant_id", ev.TenantID).
				Str("external_invoice_id", ev.ExternalInvoiceID).
				Str("delta_net", res.Deltas.Net().String()).
				Msg("ledger application deferred to retry loop")
			metrics.LedgerApplications.WithLabelValues("failed").Inc()
			result.LedgerPending = true
		} else {
			result.LedgerApplied = applied.Applied
			result.PeriodKey = applied.PeriodKey
			metrics.LedgerApplications.WithLabelValues("applied").Inc()
		}
	} else {
		metrics.LedgerApplications.WithLabelValues("skipped").Inc()
	}

	logging.Debug().
		Str("tenant_id", ev.TenantID).
		Str("client_id", ev.ClientID).
		Str("external_invoice_id", ev.ExternalInvoiceID).
		Str("status", string(proj.Status)).
		Bool("created", res.Created).
		Bool("summary_updated", res.SummaryUpdated).
		Str("delta_paid", res.Deltas.Paid.String()).
		Str("delta_refunded", res.Deltas.Refunded.String()).
		Msg("event reconciled")

	metrics.RecordReconcile("reconciled", time.Since(start))
	return result, nil
}

// surfaceRegressions logs warning-level anomalies for cumulative amounts
// that went backwards. The deltas are already clamped to zero; a single bad
// event must not stall subsequent legitimate events for the invoice.
func (o *Orchestrator) surfaceRegressions(ev *Event, res *ProjectionResult) {
	if res.Deltas.PaidRegressed {
		logging.Warn().
			Str("tenant_id", ev.TenantID).
			Str("external_invoice_id", ev.ExternalInvoiceID).
			Str("stored_paid", res.PrevPaid.String()).
			Int64("incoming_paid_minor_units", derefInt64(ev.PaidMinorUnits)).
			Msg("incoming paid amount below stored value, delta clamped to zero")
		metrics.AmountRegressions.WithLabelValues("paid").Inc()
	}
	if res.Deltas.RefundRegressed {
		logging.Warn().
			Str("tenant_id", ev.TenantID).
			Str("external_invoice_id", ev.ExternalInvoiceID).
			Str("stored_refunded", res.PrevRefunded.String()).
			Int64("incoming_refunded_minor_units", derefInt64(ev.RefundedMinorUnits)).
			Msg("incoming refund total below stored value, delta clamped to zero")
		metrics.AmountRegressions.WithLabelValues("refunded").Inc()
	}
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
