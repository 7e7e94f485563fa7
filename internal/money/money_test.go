// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func TestFromMinorUnits(t *testing.T) {
	tests := []struct {
		name  string
		input *int64
		want  string
	}{
		{name: "nil stays nil", input: nil, want: ""},
		{name: "zero", input: int64Ptr(0), want: "0"},
		{name: "whole units", input: int64Ptr(12345), want: "123.45"},
		{name: "single cent", input: int64Ptr(1), want: "0.01"},
		{name: "large amount", input: int64Ptr(999999999), want: "9999999.99"},
		{name: "negative", input: int64Ptr(-2500), want: "-25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromMinorUnits(tt.input)
			if tt.input == nil {
				if got != nil {
					t.Fatalf("FromMinorUnits(nil) = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("FromMinorUnits(%d) = nil, want %s", *tt.input, tt.want)
			}
			if got.String() != tt.want {
				t.Errorf("FromMinorUnits(%d) = %s, want %s", *tt.input, got.String(), tt.want)
			}
		})
	}
}

func TestFromMinorUnitsOrZero(t *testing.T) {
	if got := FromMinorUnitsOrZero(nil); !got.IsZero() {
		t.Errorf("FromMinorUnitsOrZero(nil) = %s, want 0", got.String())
	}
	if got := FromMinorUnitsOrZero(int64Ptr(3000)); got.String() != "30" {
		t.Errorf("FromMinorUnitsOrZero(3000) = %s, want 30", got.String())
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name  string
		input decimal.Decimal
		want  int64
	}{
		{name: "zero", input: decimal.Zero, want: 0},
		{name: "whole units", input: decimal.RequireFromString("123.45"), want: 12345},
		{name: "negative", input: decimal.RequireFromString("-25"), want: -2500},
		{name: "sub-cent truncated", input: decimal.RequireFromString("0.019"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToMinorUnits(tt.input); got != tt.want {
				t.Errorf("ToMinorUnits(%s) = %d, want %d", tt.input.String(), got, tt.want)
			}
		})
	}
}

func TestMinorUnitRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 12345, 1000000} {
		d := FromMinorUnitsOrZero(&cents)
		if got := ToMinorUnits(d); got != cents {
			t.Errorf("round trip %d -> %s -> %d", cents, d.String(), got)
		}
	}
}
