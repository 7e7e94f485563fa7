// Tally - Agency Billing Reconciliation Engine
// Copyright 2026 Avenview Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avenview/tally

// Package money converts payment-provider minor-unit amounts (cents) into
// decimal currency amounts.
//
// Amounts are represented as shopspring decimals throughout the engine;
// float64 is never used for money. A missing provider amount stays missing:
// zero and "unknown" are distinct values downstream, so nil is propagated
// rather than substituted.
package money

import "github.com/shopspring/decimal"

// minorUnitsPerUnit is the provider's minor-unit scale (cents per unit).
var minorUnitsPerUnit = decimal.NewFromInt(100)

// FromMinorUnits converts a minor-unit amount to a decimal currency amount.
// Returns nil when the input is nil.
func FromMinorUnits(v *int64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromInt(*v).Div(minorUnitsPerUnit)
	return &d
}

// FromMinorUnitsOrZero converts a minor-unit amount, substituting zero for
// nil. Use only where the caller has decided zero is the correct default,
// such as the cumulative paid total of a freshly created invoice.
func FromMinorUnitsOrZero(v *int64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(*v).Div(minorUnitsPerUnit)
}

// ToMinorUnits converts a decimal currency amount back to minor units,
// truncating any sub-cent remainder. Used for wire responses.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(minorUnitsPerUnit).IntPart()
}
