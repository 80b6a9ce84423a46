/*
Package generic provides the domain-agnostic building blocks of the engine.

PURPOSE:
  This package contains the small, reusable types that every attendance
  component relies on: money with currency-aware rounding, whole-minute
  durations, wall-clock times, calendar days, periods, the append-only
  offense ledger and the error taxonomy. It knows nothing about statuses,
  violations or payroll runs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount in a currency, rounded only on output
  - Minutes: Whole-minute durations (all hour arithmetic is done in minutes)
  - Entity IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Round once: Intermediate amounts are never rounded
  3. Type Safety: Strong typing for IDs prevents mixing employee/record IDs

USAGE:
  rate := generic.NewMoney(generic.MustParseDecimal("50"), "SAR")
  pay := rate.MulMinutes(generic.Minutes(90)) // 75.00 SAR, unrounded
  pay.Rounded()                                // rounded half-up to halalas

SEE ALSO:
  - time.go: Dates and clock times
  - ledger.go: Offense ledger
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MINUTES - Whole-minute durations
// =============================================================================

// Minutes is a duration in whole minutes.
type Minutes int64

func (m Minutes) Max(o Minutes) Minutes {
	if m > o {
		return m
	}
	return o
}

func (m Minutes) Min(o Minutes) Minutes {
	if m < o {
		return m
	}
	return o
}

// Hours converts to fractional hours. Only call this at output boundaries.
func (m Minutes) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(m)).Div(decimal.NewFromInt(60))
}

// HoursRounded is Hours rounded to two decimal places for display.
func (m Minutes) HoursRounded() decimal.Decimal {
	return m.Hours().Round(2)
}

// =============================================================================
// MONEY - Amount in a currency
// =============================================================================

// Currency is an ISO-4217 code.
type Currency string

// minorUnits lists currencies whose minor unit differs from two digits.
var minorUnits = map[Currency]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"JOD": 3,
}

// MinorUnits returns the number of decimal places of the currency's minor unit.
func (c Currency) MinorUnits() int32 {
	if n, ok := minorUnits[c]; ok {
		return n
	}
	return 2
}

type Money struct {
	Value    decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

func NewMoney(value decimal.Decimal, currency Currency) Money {
	return Money{Value: value, Currency: currency}
}

func ZeroMoney(currency Currency) Money {
	return Money{Value: decimal.Zero, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }

// MulMinutes treats m as an hourly rate and prices the given minutes.
// The division by 60 happens last so no precision is lost on whole hours.
func (m Money) MulMinutes(n Minutes) Money {
	return Money{
		Value:    m.Value.Mul(decimal.NewFromInt(int64(n))).Div(decimal.NewFromInt(60)),
		Currency: m.Currency,
	}
}

// Percent returns pct percent of m.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(pct).Div(decimal.NewFromInt(100)), Currency: m.Currency}
}

// Rounded rounds half-up to the currency minor unit. Amounts in this
// system are never negative, so decimal's half-away-from-zero rounding
// is round-half-up.
func (m Money) Rounded() Money {
	return Money{Value: m.Value.Round(m.Currency.MinorUnits()), Currency: m.Currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Value.StringFixed(m.Currency.MinorUnits()), m.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type EntryID string
