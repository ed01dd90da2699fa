/*
Package generic provides the domain-agnostic primitives of the billing engine.

PURPOSE:
  Money arithmetic, identifiers, calendar math, billing periods, rate
  schedules and the error taxonomy. Nothing in here knows what a Bill is;
  the billing package builds the domain on top of these types.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a fixed-point amount (single currency, no unit juggling)
  - Rate:  a decimal fraction (0.05 = 5%)
  - Identifiers: type-safe string IDs

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. Clamping: subtraction that must not go negative says so (SubFloor)
  3. Type Safety: BillID and ContractID cannot be mixed up

USAGE:
  total := generic.NewMoney(1_000_000)
  paid := generic.NewMoney(400_000)
  outstanding := total.SubFloor(paid)  // 600000

SEE ALSO:
  - rate.go: Step-function rate schedules
  - period.go: Billing periods and payment cycles
  - errors.go: Error taxonomy
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount
// =============================================================================

// Money is an amount in the system's single currency.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Value: d}
}

// ParseMoney parses a decimal string such as "175000" or "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

// MustParseMoney is ParseMoney for literals. Invalid input yields zero.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return Zero()
	}
	return m
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money           { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(d decimal.Decimal) Money { return Money{Value: m.Value.Mul(d)} }
func (m Money) MulInt(n int64) Money        { return Money{Value: m.Value.Mul(decimal.NewFromInt(n))} }
func (m Money) Round(places int32) Money    { return Money{Value: m.Value.Round(places)} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) String() string              { return m.Value.String() }

// SubFloor subtracts and clamps the result at zero.
func (m Money) SubFloor(o Money) Money {
	r := m.Value.Sub(o.Value)
	if r.IsNegative() {
		return Zero()
	}
	return Money{Value: r}
}

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// MarshalJSON encodes Money as a JSON string to keep full precision.
func (m Money) MarshalJSON() ([]byte, error) {
	return m.Value.MarshalJSON()
}

// UnmarshalJSON accepts both "123.45" and 123.45.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Value.UnmarshalJSON(b)
}

// Sum adds up a list of amounts.
func Sum(amounts ...Money) Money {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// RATE - Decimal fraction applied to money
// =============================================================================

// Rate is a fraction: 0.05 means 5%.
type Rate = decimal.Decimal

// RateFromPercent builds a Rate from a percentage (5 → 0.05).
func RateFromPercent(percent float64) Rate {
	return decimal.NewFromFloat(percent).Div(decimal.NewFromInt(100))
}

// MustParseRate parses a fraction literal. Invalid input yields zero.
func MustParseRate(s string) Rate {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BillID string
type ContractID string
type RoomID string
type ServiceID string
type RecipientID string
