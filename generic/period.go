package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Half-open billing window
// =============================================================================

// Period is the window a bill covers: [Start, End).
//
// Examples:
//   - March rent: 2025-03-01 .. 2025-04-01
//   - Q2 rent:    2025-04-01 .. 2025-07-01
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod validates that End is after Start.
func NewPeriod(start, end time.Time) (Period, error) {
	if !end.After(start) {
		return Period{}, &ValidationError{Field: "to_date", Reason: "must be after from_date"}
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Covers returns true if other lies entirely within p.
func (p Period) Covers(other Period) bool {
	return !other.Start.Before(p.Start) && !other.End.After(p.End)
}

// Overlaps returns true if the two windows share any instant.
func (p Period) Overlaps(other Period) bool {
	return p.Start.Before(other.End) && other.Start.Before(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + ")"
}

// =============================================================================
// PAYMENT CYCLE - How often a contract is billed
// =============================================================================

type PaymentCycle string

const (
	CycleMonthly    PaymentCycle = "MONTHLY"
	CycleQuarterly  PaymentCycle = "QUARTERLY"
	CycleSemiAnnual PaymentCycle = "SEMI_ANNUAL"
	CycleAnnual     PaymentCycle = "ANNUAL"
)

// Months returns the number of months one cycle spans.
func (c PaymentCycle) Months() int {
	switch c {
	case CycleQuarterly:
		return 3
	case CycleSemiAnnual:
		return 6
	case CycleAnnual:
		return 12
	default:
		return 1
	}
}

func (c PaymentCycle) Valid() bool {
	switch c {
	case CycleMonthly, CycleQuarterly, CycleSemiAnnual, CycleAnnual:
		return true
	}
	return false
}

// ParsePaymentCycle accepts the canonical upper-case names.
func ParsePaymentCycle(s string) (PaymentCycle, error) {
	c := PaymentCycle(s)
	if !c.Valid() {
		return "", &ValidationError{Field: "payment_cycle", Reason: fmt.Sprintf("unknown cycle %q", s)}
	}
	return c, nil
}

// PeriodFrom returns the cycle-long period starting at start.
func (c PaymentCycle) PeriodFrom(start time.Time) Period {
	start = StartOfDay(start)
	return Period{Start: start, End: start.AddDate(0, c.Months(), 0)}
}

// NextPeriod returns the period following p for this cycle.
func (c PaymentCycle) NextPeriod(p Period) Period {
	return c.PeriodFrom(p.End)
}
