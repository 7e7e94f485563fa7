// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package reconcile

import (
	"strings"
	"testing"
	"time"
)

func validEvent() *Event {
	total := int64(10000)
	paid := int64(3000)
	return &Event{
		ExternalInvoiceID: "in_1abc",
		TenantID:          "tenant-1",
		ClientID:          "client-1",
		CurrencyCode:      "USD",
		TotalMinorUnits:   &total,
		PaidMinorUnits:    &paid,
		RawStatus:         "open",
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Event)
		wantErr string
	}{
		{name: "valid event", mutate: func(e *Event) {}},
		{
			name:    "missing external invoice id",
			mutate:  func(e *Event) { e.ExternalInvoiceID = "" },
			wantErr: "ExternalInvoiceID",
		},
		{
			name:    "missing currency",
			mutate:  func(e *Event) { e.CurrencyCode = "" },
			wantErr: "CurrencyCode",
		},
		{
			name:    "invalid currency code",
			mutate:  func(e *Event) { e.CurrencyCode = "DOLLARS" },
			wantErr: "ISO 4217",
		},
		{
			name:    "missing total",
			mutate:  func(e *Event) { e.TotalMinorUnits = nil },
			wantErr: "TotalMinorUnits",
		},
		{
			name:    "missing paid",
			mutate:  func(e *Event) { e.PaidMinorUnits = nil },
			wantErr: "PaidMinorUnits",
		},
		{
			name:    "missing raw status",
			mutate:  func(e *Event) { e.RawStatus = "" },
			wantErr: "RawStatus",
		},
		{
			name:    "malformed hosted url",
			mutate:  func(e *Event) { e.HostedURL = "not a url" },
			wantErr: "HostedURL",
		},
		{
			name:   "missing tenant and client pass structural validation",
			mutate: func(e *Event) { e.TenantID = ""; e.ClientID = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)
			err := e.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEventHasIdentity(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		clientID string
		want     bool
	}{
		{name: "both present", tenantID: "t", clientID: "c", want: true},
		{name: "missing tenant", tenantID: "", clientID: "c", want: false},
		{name: "missing client", tenantID: "t", clientID: "", want: false},
		{name: "both missing", tenantID: "", clientID: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{TenantID: tt.tenantID, ClientID: tt.clientID}
			if got := e.HasIdentity(); got != tt.want {
				t.Errorf("HasIdentity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventTimestamps(t *testing.T) {
	e := validEvent()
	if e.DueAt() != nil {
		t.Error("DueAt() should be nil when no epoch is set")
	}
	if e.IssuedAt() != nil {
		t.Error("IssuedAt() should be nil when no epoch is set")
	}

	epoch := int64(1767225600) // 2026-01-01T00:00:00Z
	e.DueEpochSeconds = &epoch
	e.FinalizedEpochSeconds = &epoch

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := e.DueAt(); got == nil || !got.Equal(want) {
		t.Errorf("DueAt() = %v, want %v", got, want)
	}
	if got := e.IssuedAt(); got == nil || !got.Equal(want) {
		t.Errorf("IssuedAt() = %v, want %v", got, want)
	}
}
