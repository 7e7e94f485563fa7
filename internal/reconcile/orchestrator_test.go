// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// fakeStore records the projections and ledger applications it receives.
type fakeStore struct {
	projections []InvoiceProjection
	applied     []OutboxRef

	projectResult *ProjectionResult
	projectErr    error
	applyErr      error
}

func (f *fakeStore) ProjectInvoice(_ context.Context, p InvoiceProjection) (*ProjectionResult, error) {
	f.projections = append(f.projections, p)
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	if f.projectResult != nil {
		return f.projectResult, nil
	}
	return &ProjectionResult{}, nil
}

func (f *fakeStore) ApplyLedgerDelta(_ context.Context, ref OutboxRef) (LedgerApplyResult, error) {
	f.applied = append(f.applied, ref)
	if f.applyErr != nil {
		return LedgerApplyResult{}, f.applyErr
	}
	return LedgerApplyResult{Applied: true, PeriodKey: "2026-03", Net: ref.DeltaPaid.Sub(ref.DeltaRefunded)}, nil
}

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestReconcileDiscardsEventsWithoutIdentity(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		clientID string
	}{
		{name: "missing client", tenantID: "tenant-1", clientID: ""},
		{name: "missing tenant", tenantID: "", clientID: "client-1"},
		{name: "missing both", tenantID: "", clientID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{}
			o := NewOrchestrator(fs, FixedClock{At: testNow})

			ev := validEvent()
			ev.TenantID = tt.tenantID
			ev.ClientID = tt.clientID

			res, err := o.Reconcile(context.Background(), ev)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if res.Outcome != OutcomeDiscarded {
				t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeDiscarded)
			}
			if res.DiscardReason == "" {
				t.Error("DiscardReason should be set")
			}
			// Zero store interaction: a discarded event mutates nothing.
			if len(fs.projections) != 0 || len(fs.applied) != 0 {
				t.Errorf("store touched for discarded event: %d projections, %d applies",
					len(fs.projections), len(fs.applied))
			}
		})
	}
}

func TestReconcileNormalizesEvent(t *testing.T) {
	fs := &fakeStore{}
	o := NewOrchestrator(fs, FixedClock{At: testNow})

	ev := validEvent()
	refunded := int64(500)
	ev.RefundedMinorUnits = &refunded
	due := testNow.Add(-time.Hour).Unix()
	ev.DueEpochSeconds = &due

	res, err := o.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Outcome != OutcomeReconciled {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, OutcomeReconciled)
	}
	if len(fs.projections) != 1 {
		t.Fatalf("projections = %d, want 1", len(fs.projections))
	}

	p := fs.projections[0]
	if p.Total.String() != "100" {
		t.Errorf("Total = %s, want 100", p.Total.String())
	}
	if p.Paid.String() != "30" {
		t.Errorf("Paid = %s, want 30", p.Paid.String())
	}
	if p.Refunded == nil || p.Refunded.String() != "5" {
		t.Errorf("Refunded = %v, want 5", p.Refunded)
	}
	if p.Remaining != nil {
		t.Errorf("Remaining = %v, want nil for unreported remaining", p.Remaining)
	}
	// open + past due resolves to overdue against the injected clock.
	if p.Status != StatusOverdue {
		t.Errorf("Status = %s, want %s", p.Status, StatusOverdue)
	}
	if !p.Now.Equal(testNow) {
		t.Errorf("Now = %v, want %v", p.Now, testNow)
	}
}

func TestReconcileProjectionFailure(t *testing.T) {
	fs := &fakeStore{projectErr: errors.New("disk full")}
	o := NewOrchestrator(fs, FixedClock{At: testNow})

	res, err := o.Reconcile(context.Background(), validEvent())
	if err == nil {
		t.Fatal("Reconcile() should return the projection error so the provider redelivers")
	}
	if res != nil {
		t.Errorf("result should be nil on projection failure, got %+v", res)
	}
	if len(fs.applied) != 0 {
		t.Error("ledger must not be touched when the projection failed")
	}
}

func TestReconcileAppliesLedgerDelta(t *testing.T) {
	ref := OutboxRef{
		TenantID:          "tenant-1",
		ExternalInvoiceID: "in_1abc",
		EntryID:           "entry-1",
		DeltaPaid:         decimal.RequireFromString("30"),
	}
	fs := &fakeStore{projectResult: &ProjectionResult{
		Created: true,
		Deltas:  Deltas{Paid: decimal.RequireFromString("30")},
		Outbox:  &ref,
	}}
	o := NewOrchestrator(fs, FixedClock{At: testNow})

	res, err := o.Reconcile(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !res.LedgerApplied {
		t.Error("LedgerApplied should be true")
	}
	if res.LedgerPending {
		t.Error("LedgerPending should be false after a successful apply")
	}
	if res.PeriodKey != "2026-03" {
		t.Errorf("PeriodKey = %s, want 2026-03", res.PeriodKey)
	}
	if res.NetDelta.String() != "30" {
		t.Errorf("NetDelta = %s, want 30", res.NetDelta.String())
	}
	if len(fs.applied) != 1 || fs.applied[0].EntryID != "entry-1" {
		t.Errorf("applied = %+v, want the enqueued entry", fs.applied)
	}
}

func TestReconcileLedgerFailureIsNotAnError(t *testing.T) {
	ref := OutboxRef{EntryID: "entry-1", DeltaPaid: decimal.RequireFromString("30")}
	fs := &fakeStore{
		projectResult: &ProjectionResult{
			Deltas: Deltas{Paid: decimal.RequireFromString("30")},
			Outbox: &ref,
		},
		applyErr: errors.New("ledger unavailable"),
	}
	o := NewOrchestrator(fs, FixedClock{At: testNow})

	res, err := o.Reconcile(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("a failed ledger apply after a committed invoice write must not fail the event: %v", err)
	}
	if res.Outcome != OutcomeReconciled {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeReconciled)
	}
	if !res.LedgerPending {
		t.Error("LedgerPending should be true when the apply is deferred to the retry loop")
	}
	if res.LedgerApplied {
		t.Error("LedgerApplied should be false when the apply failed")
	}
}

func TestReconcileSkipsLedgerForZeroDelta(t *testing.T) {
	fs := &fakeStore{projectResult: &ProjectionResult{}}
	o := NewOrchestrator(fs, FixedClock{At: testNow})

	res, err := o.Reconcile(context.Background(), validEvent())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(fs.applied) != 0 {
		t.Error("no ledger apply expected when the projection enqueued nothing")
	}
	if res.LedgerApplied || res.LedgerPending {
		t.Errorf("LedgerApplied=%v LedgerPending=%v, want both false", res.LedgerApplied, res.LedgerPending)
	}
}
