/*
Package generic provides the domain-agnostic primitives of the payroll engine.

PURPOSE:
  Calendar and money building blocks shared by the payroll domain, the
  stores and the HTTP layer. Nothing in here knows about employees or
  payroll runs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal currency amount, always rounded to the cent at edges
  - Rounding: one pinned rule for every currency division

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. One rounding rule: RoundCents (half away from zero, 2 places)
  3. Calendar days only: see time.go and period.go

SEE ALSO:
  - time.go: Date
  - period.go: Period and half-open Interval
  - errors.go: error taxonomy
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount (two decimal places at rest)
// =============================================================================

// CentPlaces is the currency precision.
const CentPlaces = 2

// Money is a currency amount. The zero value is 0.
type Money = decimal.Decimal

// NewMoney converts a float literal. Use only for tests and constants.
func NewMoney(v float64) Money { return decimal.NewFromFloat(v) }

// ParseMoney parses a decimal string such as "3000.00".
func ParseMoney(s string) (Money, error) {
	m, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "invalid decimal " + s}
	}
	return m, nil
}

func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// RoundCents rounds to 2 places, half away from zero. For the non-negative
// amounts payroll deals in this is round-half-up: 0.005 -> 0.01.
func RoundCents(m Money) Money { return m.Round(CentPlaces) }

// FormatMoney renders with exactly two decimals: "4548.39".
func FormatMoney(m Money) string { return m.StringFixed(CentPlaces) }

// Prorate returns amount * days / totalDays without intermediate rounding.
func Prorate(amount Money, days, totalDays int) Money {
	if totalDays <= 0 || days <= 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(int64(totalDays)))
}
