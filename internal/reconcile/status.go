// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package reconcile

import "time"

// Status is the resolved finance state of an invoice.
type Status string

// Finance states. Unlike the monetary fields, status is re-resolved on
// every event and may move in any direction: a sent invoice becomes
// overdue when its due date passes and reverts when the due date changes.
const (
	// StatusDraft indicates a not-yet-billable invoice. Voided invoices
	// resolve here too: void is an absorbing alias of draft.
	StatusDraft Status = "draft"
	// StatusSent indicates an open invoice awaiting payment.
	StatusSent Status = "sent"
	// StatusPaid indicates a fully paid invoice.
	StatusPaid Status = "paid"
	// StatusOverdue indicates an open invoice past its due date, or one
	// the provider marked uncollectible.
	StatusOverdue Status = "overdue"
)

// Raw provider status strings.
const (
	rawStatusDraft         = "draft"
	rawStatusOpen          = "open"
	rawStatusPaid          = "paid"
	rawStatusVoid          = "void"
	rawStatusUncollectible = "uncollectible"
)

// ResolveStatus maps a raw provider status and optional due timestamp to a
// finance state. Pure and total: same inputs always yield the same output,
// with "now" as an explicit parameter. Unknown raw statuses resolve to
// sent, the safe default for an invoice of unknown disposition.
func ResolveStatus(rawStatus string, dueAt *time.Time, now time.Time) Status {
	switch rawStatus {
	case rawStatusDraft:
		return StatusDraft
	case rawStatusPaid:
		return StatusPaid
	case rawStatusVoid:
		return StatusDraft
	case rawStatusUncollectible:
		return StatusOverdue
	case rawStatusOpen:
		if dueAt != nil && dueAt.Before(now) {
			return StatusOverdue
		}
		return StatusSent
	default:
		return StatusSent
	}
}
