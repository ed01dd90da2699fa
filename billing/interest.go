/*
interest.go - Overdue interest, partial-payment fees and penalty quotes

PURPOSE:
  Pure arithmetic over (outstanding, due date, now). Nothing here touches
  the store, so the same Calculator serves payment processing, penalty
  creation, escalation and the HTTP preview endpoint.

MONTHS OVERDUE:
  Overdue time is bucketed in fixed DaysPerMonth-day months and a started
  bucket counts:

    overdue days   months (DaysPerMonth = 30)
    0              0
    1..30          1
    31..60         2

  The rate is then read from the RateSchedule step function.

EXAMPLE:
  outstanding 1,000,000, due D, now D+10, tiers [{1, 5%}]
  -> 10 days, 1 month, 5%, interest 50,000

ROUNDING:
  Every amount returned is rounded to Policy.MoneyScale places (0 for
  currencies without minor units).

SEE ALSO:
  - generic/rate.go: RateSchedule
  - payment.go: Uses Interest and PartialPaymentFee
  - lifecycle.go: Uses PenaltyQuote
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rental-billing/generic"
)

// =============================================================================
// POLICY
// =============================================================================

type FeeMode string

const (
	FeeFlat    FeeMode = "flat"
	FeePercent FeeMode = "percent"
)

// FeePolicy prices a partial payment made while overdue.
// Flat: Value is an amount. Percent: Value is a fraction of the payment.
type FeePolicy struct {
	Mode  FeeMode
	Value decimal.Decimal
}

// Policy is the configuration every billing component reads.
type Policy struct {
	WarnAfterDays    int
	WarnWindowDays   int
	PenaltyAfterDays int
	DaysPerMonth     int

	Rates      generic.RateSchedule
	PartialFee FeePolicy

	// Payments up to Outstanding+OverpayTolerance are capped, above are rejected.
	OverpayTolerance generic.Money

	DueDays    map[generic.PaymentCycle]int
	DefaultDue int

	MoneyScale int32
}

// DefaultPolicy returns the standard rental policy.
func DefaultPolicy() Policy {
	return Policy{
		WarnAfterDays:    1,
		WarnWindowDays:   3,
		PenaltyAfterDays: 3,
		DaysPerMonth:     30,
		Rates: generic.MustRateSchedule(
			generic.RateTier{AfterMonths: 1, Rate: generic.MustParseRate("0.05")},
			generic.RateTier{AfterMonths: 2, Rate: generic.MustParseRate("0.08")},
			generic.RateTier{AfterMonths: 3, Rate: generic.MustParseRate("0.12")},
			generic.RateTier{AfterMonths: 6, Rate: generic.MustParseRate("0.20")},
		),
		PartialFee:       FeePolicy{Mode: FeePercent, Value: generic.MustParseRate("0.01")},
		OverpayTolerance: generic.Zero(),
		DueDays:          map[generic.PaymentCycle]int{},
		DefaultDue:       7,
		MoneyScale:       0,
	}
}

// Validate rejects policies the calculator cannot work with.
func (p Policy) Validate() error {
	if p.DaysPerMonth < 1 {
		return &generic.ValidationError{Field: "days_per_month", Reason: "must be >= 1"}
	}
	if p.WarnAfterDays < 0 || p.WarnWindowDays < 0 || p.PenaltyAfterDays < 0 {
		return &generic.ValidationError{Field: "thresholds", Reason: "must not be negative"}
	}
	if p.OverpayTolerance.IsNegative() {
		return &generic.ValidationError{Field: "overpay_tolerance", Reason: "must not be negative"}
	}
	switch p.PartialFee.Mode {
	case FeeFlat, FeePercent:
	default:
		return &generic.ValidationError{Field: "fee.mode", Reason: fmt.Sprintf("unknown mode %q", p.PartialFee.Mode)}
	}
	if p.PartialFee.Value.IsNegative() {
		return &generic.ValidationError{Field: "fee.value", Reason: "must not be negative"}
	}
	for cycle, days := range p.DueDays {
		if days < 0 {
			return &generic.ValidationError{Field: "due_days." + string(cycle), Reason: "must not be negative"}
		}
	}
	return p.Rates.Validate()
}

// DueAfter returns how many days after the bill date a bill of this cycle is due.
func (p Policy) DueAfter(cycle generic.PaymentCycle) int {
	if d, ok := p.DueDays[cycle]; ok {
		return d
	}
	return p.DefaultDue
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Policy Policy
}

func NewCalculator(p Policy) Calculator {
	return Calculator{Policy: p}
}

// OverdueDays counts whole days past the due day; 0 when not overdue.
func (c Calculator) OverdueDays(due, now time.Time) int {
	days := generic.DaysBetween(due, now)
	if days < 0 {
		return 0
	}
	return days
}

// MonthsOverdue buckets overdue days into started months.
func (c Calculator) MonthsOverdue(due, now time.Time) int {
	return c.monthsFor(c.OverdueDays(due, now))
}

func (c Calculator) monthsFor(days int) int {
	if days <= 0 {
		return 0
	}
	per := c.Policy.DaysPerMonth
	if per < 1 {
		per = 30
	}
	return (days + per - 1) / per
}

// Interest is outstanding × rate(months overdue), or zero if now ≤ due.
func (c Calculator) Interest(outstanding generic.Money, due, now time.Time) generic.Money {
	if !now.After(due) {
		return generic.Zero()
	}
	return c.PartialPaymentInterest(outstanding, c.MonthsOverdue(due, now))
}

// PartialPaymentInterest applies the step function to a given month count.
func (c Calculator) PartialPaymentInterest(outstanding generic.Money, months int) generic.Money {
	if months <= 0 || !outstanding.IsPositive() {
		return generic.Zero()
	}
	rate := c.Policy.Rates.RateFor(months)
	return outstanding.Mul(rate).Round(c.Policy.MoneyScale)
}

// PartialPaymentFee is charged on an overdue payment that leaves money owed.
func (c Calculator) PartialPaymentFee(payment, outstanding generic.Money, overdue bool) generic.Money {
	if !overdue || !payment.LessThan(outstanding) {
		return generic.Zero()
	}
	fee := c.Policy.PartialFee
	switch fee.Mode {
	case FeeFlat:
		return generic.NewMoneyFromDecimal(fee.Value).Round(c.Policy.MoneyScale)
	case FeePercent:
		return payment.Mul(fee.Value).Round(c.Policy.MoneyScale)
	}
	return generic.Zero()
}

// PenaltyQuote is the snapshot stored on a PENALTY bill.
type PenaltyQuote struct {
	OverdueDays   int
	MonthsOverdue int
	Rate          generic.Rate
	Amount        generic.Money
}

// PenaltyQuote prices a penalty for outstanding as of now.
func (c Calculator) PenaltyQuote(outstanding generic.Money, due, now time.Time) PenaltyQuote {
	days := c.OverdueDays(due, now)
	months := c.monthsFor(days)
	q := PenaltyQuote{
		OverdueDays:   days,
		MonthsOverdue: months,
		Rate:          c.Policy.Rates.RateFor(months),
		Amount:        generic.Zero(),
	}
	if months > 0 && outstanding.IsPositive() {
		q.Amount = outstanding.Mul(q.Rate).Round(c.Policy.MoneyScale)
	}
	return q
}
