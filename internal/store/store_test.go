// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avenview/tally/internal/reconcile"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenForTesting()
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func cents(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(100))
}

func centsPtr(v int64) *decimal.Decimal {
	d := cents(v)
	return &d
}

// testProjection builds a sent-invoice projection with the given cumulative
// paid amount in minor units.
func testProjection(invoiceID string, paidCents int64) reconcile.InvoiceProjection {
	return reconcile.InvoiceProjection{
		TenantID:          "tenant-1",
		ClientID:          "client-1",
		ExternalInvoiceID: invoiceID,
		Status:            reconcile.StatusSent,
		Currency:          "USD",
		Total:             cents(10000),
		Paid:              cents(paidCents),
		Now:               testNow,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open without a path should fail")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := OpenForTesting()
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	s, err := OpenForTesting()
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ctx := context.Background()
	if _, err := s.ProjectInvoice(ctx, testProjection("in_1", 100)); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("ProjectInvoice after close = %v, want ErrStoreClosed", err)
	}
	if _, err := s.GetInvoice(ctx, "tenant-1", "in_1"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("GetInvoice after close = %v, want ErrStoreClosed", err)
	}
	if err := s.RunGC(); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("RunGC after close = %v, want ErrStoreClosed", err)
	}
}

func TestUpdateHonorsCanceledContext(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.ProjectInvoice(ctx, testProjection("in_1", 100)); !errors.Is(err, context.Canceled) {
		t.Errorf("ProjectInvoice with canceled context = %v, want context.Canceled", err)
	}
}

func TestSanitizeKeyPart(t *testing.T) {
	tests := []struct {
		name    string
		part    string
		wantErr bool
	}{
		{name: "plain identifier", part: "tenant-1"},
		{name: "uuid-like", part: "9b2f6c0e-2a44-4e5f-8f5a-1c2d3e4f5a6b"},
		{name: "empty", part: "", wantErr: true},
		{name: "embedded colon", part: "tenant:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeKeyPart(tt.part)
			if (err != nil) != tt.wantErr {
				t.Errorf("sanitizeKeyPart(%q) = %v, wantErr %v", tt.part, err, tt.wantErr)
			}
		})
	}
}

func TestPeriodKeyFor(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "mid month", at: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC), want: "2026-03"},
		{name: "first instant of month", at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), want: "2026-01"},
		{name: "last instant of month", at: time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), want: "2026-12"},
		{
			name: "non-UTC timestamp normalized",
			at:   time.Date(2026, 4, 1, 0, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			want: "2026-03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeriodKeyFor(tt.at); got != tt.want {
				t.Errorf("PeriodKeyFor(%v) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}
