// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package reconcile

import (
	"time"

	"github.com/avenview/tally/internal/validation"
)

// Event is a validated invoice snapshot delivered by the payment-provider
// webhook collaborator. Signature verification and HTTP framing happen
// before an Event reaches this package; the snapshot itself is never
// mutated once received.
//
// Provider amounts are cumulative-to-date minor units, not increments.
// RefundedMinorUnits is nil when the event does not report a refund total,
// which is distinct from a reported total of zero.
type Event struct {
	ExternalInvoiceID string `json:"external_invoice_id" validate:"required"`
	TenantID          string `json:"tenant_id"`
	ClientID          string `json:"client_id"`
	CurrencyCode      string `json:"currency_code" validate:"required,iso4217"`

	TotalMinorUnits     *int64 `json:"total_minor_units" validate:"required"`
	PaidMinorUnits      *int64 `json:"paid_minor_units" validate:"required"`
	RemainingMinorUnits *int64 `json:"remaining_minor_units,omitempty"`
	RefundedMinorUnits  *int64 `json:"refunded_minor_units,omitempty"`

	RawStatus             string `json:"raw_status" validate:"required"`
	DueEpochSeconds       *int64 `json:"due_epoch_seconds,omitempty"`
	FinalizedEpochSeconds *int64 `json:"finalized_epoch_seconds,omitempty"`

	HostedURL        string `json:"hosted_url,omitempty" validate:"omitempty,url"`
	InvoiceNumber    string `json:"invoice_number,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	CollectionMethod string `json:"collection_method,omitempty"`
}

// Validate checks the event's structural shape. Tenant and client identity
// is deliberately not part of structural validation; see HasIdentity.
func (e *Event) Validate() error {
	if err := validation.ValidateStruct(e); err != nil {
		return err
	}
	return nil
}

// HasIdentity reports whether the event carries the tenant and client
// metadata required for projection. An event without identity is
// acknowledged and discarded rather than rejected: the provider would
// redeliver an unfixably incomplete event forever.
func (e *Event) HasIdentity() bool {
	return e.TenantID != "" && e.ClientID != ""
}

// DueAt returns the due timestamp, or nil when the event carries none.
func (e *Event) DueAt() *time.Time {
	return epochToTime(e.DueEpochSeconds)
}

// IssuedAt returns the finalized/created timestamp used for out-of-order
// resolution in the client summary, or nil when the event carries none.
func (e *Event) IssuedAt() *time.Time {
	return epochToTime(e.FinalizedEpochSeconds)
}

func epochToTime(epoch *int64) *time.Time {
	if epoch == nil {
		return nil
	}
	t := time.Unix(*epoch, 0).UTC()
	return &t
}
