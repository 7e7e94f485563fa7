// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package reconcile

import "github.com/shopspring/decimal"

// Deltas is the incremental monetary effect attributable to one event:
// the amounts paid and refunded since the last observation of the same
// external invoice id.
type Deltas struct {
	// Paid is the additional amount paid since the previous observation.
	// Never negative.
	Paid decimal.Decimal

	// Refunded is the additional amount refunded since the previous
	// observation. Never negative.
	Refunded decimal.Decimal

	// PaidRegressed is set when the incoming cumulative paid amount is
	// below the stored value. The delta is clamped to zero; the caller
	// surfaces the anomaly as a warning, never as a negative adjustment.
	PaidRegressed bool

	// RefundRegressed is the refund-side counterpart of PaidRegressed.
	RefundRegressed bool
}

// Net returns the net revenue effect: paid minus refunded. May be negative
// on a pure-refund cycle.
func (d Deltas) Net() decimal.Decimal {
	return d.Paid.Sub(d.Refunded)
}

// IsZero reports whether the event carries no monetary change at all,
// which is the case for every redelivery of an already-applied event.
func (d Deltas) IsZero() bool {
	return d.Paid.IsZero() && d.Refunded.IsZero()
}

// ComputeDeltas derives the monotonic deltas from the previously stored
// cumulative amounts and the incoming snapshot.
//
// incomingRefunded is nil when the event does not report a refund total;
// the previous total is reused, yielding a zero refund delta rather than a
// guess. Both deltas clamp at zero: a later event reporting a smaller
// cumulative amount must never decrement the ledger.
//
// The previous amounts must come from the same transaction that writes the
// new snapshot, or two concurrent deliveries could both compute first-
// observer deltas and double-credit the ledger.
func ComputeDeltas(prevPaid, prevRefunded decimal.Decimal, incomingPaid decimal.Decimal, incomingRefunded *decimal.Decimal) Deltas {
	var d Deltas

	switch incomingPaid.Cmp(prevPaid) {
	case 1:
		d.Paid = incomingPaid.Sub(prevPaid)
	case -1:
		d.Paid = decimal.Zero
		d.PaidRegressed = true
	default:
		d.Paid = decimal.Zero
	}

	if incomingRefunded == nil {
		d.Refunded = decimal.Zero
		return d
	}

	switch incomingRefunded.Cmp(prevRefunded) {
	case 1:
		d.Refunded = incomingRefunded.Sub(prevRefunded)
	case -1:
		d.Refunded = decimal.Zero
		d.RefundRegressed = true
	default:
		d.Refunded = decimal.Zero
	}

	return d
}
