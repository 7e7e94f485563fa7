// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

// Package reconcile contains the billing reconciliation core: the validated
// invoice event type, the finance state resolver, the monotonic delta
// calculator, and the orchestrator that folds one event into the three
// projections (invoice record, client summary, revenue ledger).
//
// The provider delivers events at-least-once, out of order, and possibly
// duplicated. All idempotency in this package derives from one rule: the
// provider reports cumulative-to-date amounts, so the delta attributable to
// an event is the clamped difference against the amounts already stored.
// Replaying an event yields a zero delta and therefore no ledger change.
package reconcile
