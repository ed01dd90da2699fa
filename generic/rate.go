/*
rate.go - Escalating step-function rates

PURPOSE:
  A RateSchedule maps "how many months overdue" to the penalty rate applied
  to the outstanding amount. Tiers are ordered by AfterMonths; the rate of
  the last tier whose threshold has been reached wins.

EXAMPLE:
  tiers: [{1, 5%}, {2, 8%}, {3, 12%}]
  0 months  -> 0%
  1 month   -> 5%
  2 months  -> 8%
  7 months  -> 12%

INVARIANT:
  Rates never decrease as months grow. Validate() rejects schedules that
  would make a later month cheaper than an earlier one.

SEE ALSO:
  - billing/interest.go: Calculator using the schedule
  - factory/penalty.go: JSON definitions
*/
package generic

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// RateTier switches to Rate once AfterMonths months have elapsed.
type RateTier struct {
	AfterMonths int
	Rate        Rate
}

// RateSchedule is a monotonically non-decreasing step function.
type RateSchedule struct {
	Tiers []RateTier
}

// NewRateSchedule sorts and validates the tiers.
func NewRateSchedule(tiers ...RateTier) (RateSchedule, error) {
	sorted := make([]RateTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AfterMonths < sorted[j].AfterMonths
	})
	rs := RateSchedule{Tiers: sorted}
	if err := rs.Validate(); err != nil {
		return RateSchedule{}, err
	}
	return rs, nil
}

// MustRateSchedule panics on an invalid schedule. Meant for presets.
func MustRateSchedule(tiers ...RateTier) RateSchedule {
	rs, err := NewRateSchedule(tiers...)
	if err != nil {
		panic(err)
	}
	return rs
}

// Validate checks ordering, bounds and monotonicity.
func (rs RateSchedule) Validate() error {
	prevMonths := -1
	prevRate := decimal.Zero
	for i, t := range rs.Tiers {
		if t.AfterMonths < 1 {
			return &ValidationError{Field: fmt.Sprintf("tiers[%d].after_months", i), Reason: "must be >= 1"}
		}
		if t.AfterMonths == prevMonths {
			return &ValidationError{Field: fmt.Sprintf("tiers[%d].after_months", i), Reason: "duplicate threshold"}
		}
		if t.AfterMonths < prevMonths {
			return &ValidationError{Field: fmt.Sprintf("tiers[%d].after_months", i), Reason: "tiers must be sorted"}
		}
		if t.Rate.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("tiers[%d].rate", i), Reason: "must not be negative"}
		}
		if t.Rate.LessThan(prevRate) {
			return &ValidationError{Field: fmt.Sprintf("tiers[%d].rate", i), Reason: "rates must not decrease"}
		}
		prevMonths = t.AfterMonths
		prevRate = t.Rate
	}
	return nil
}

// RateFor returns the rate for the given number of months overdue.
func (rs RateSchedule) RateFor(months int) Rate {
	rate := decimal.Zero
	for _, t := range rs.Tiers {
		if months < t.AfterMonths {
			break
		}
		rate = t.Rate
	}
	return rate
}
