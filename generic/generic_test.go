package generic_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/generic"
)

// =============================================================================
// MONEY
// =============================================================================

func TestMoney_SubFloorClampsAtZero(t *testing.T) {
	total := generic.NewMoney(1_000_000)

	assert.Equal(t, "600000", total.SubFloor(generic.NewMoney(400_000)).String())
	assert.True(t, total.SubFloor(generic.NewMoney(1_200_000)).IsZero())
}

func TestMoney_JSONKeepsPrecision(t *testing.T) {
	m := generic.MustParseMoney("175000.25")

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"175000.25"`, string(b))

	var back generic.Money
	require.NoError(t, json.Unmarshal([]byte(`175000.25`), &back))
	assert.True(t, back.Equal(m))
}

func TestMoney_SumMinMax(t *testing.T) {
	a, b := generic.NewMoney(3), generic.NewMoney(5)

	assert.Equal(t, "8", generic.Sum(a, b).String())
	assert.Equal(t, "3", a.Min(b).String())
	assert.Equal(t, "5", a.Max(b).String())
	assert.True(t, generic.Sum().IsZero())
}

func TestRateFromPercent(t *testing.T) {
	assert.True(t, generic.RateFromPercent(5).Equal(generic.MustParseRate("0.05")))
}

// =============================================================================
// PERIODS
// =============================================================================

func TestPeriod_HalfOpen(t *testing.T) {
	p, err := generic.NewPeriod(generic.Date(2025, time.March, 1), generic.Date(2025, time.April, 1))
	require.NoError(t, err)

	assert.True(t, p.Contains(generic.Date(2025, time.March, 1)))
	assert.True(t, p.Contains(generic.Date(2025, time.March, 31)))
	assert.False(t, p.Contains(generic.Date(2025, time.April, 1)))
	assert.Equal(t, "[2025-03-01, 2025-04-01)", p.String())
}

func TestPeriod_CoversAndOverlaps(t *testing.T) {
	march := generic.Period{Start: generic.Date(2025, time.March, 1), End: generic.Date(2025, time.April, 1)}
	mid := generic.Period{Start: generic.Date(2025, time.March, 10), End: generic.Date(2025, time.March, 20)}
	april := generic.Period{Start: generic.Date(2025, time.April, 1), End: generic.Date(2025, time.May, 1)}

	assert.True(t, march.Covers(mid))
	assert.False(t, mid.Covers(march))
	assert.True(t, march.Overlaps(mid))
	assert.False(t, march.Overlaps(april), "adjacent half-open windows do not overlap")
}

func TestNewPeriod_RejectsEmpty(t *testing.T) {
	d := generic.Date(2025, time.March, 1)
	_, err := generic.NewPeriod(d, d)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestPaymentCycle_Periods(t *testing.T) {
	start := generic.Date(2025, time.January, 31)

	q := generic.CycleQuarterly.PeriodFrom(start)
	assert.Equal(t, generic.Date(2025, time.May, 1), q.End, "AddDate normalises Jan 31 + 3 months")

	m := generic.CycleMonthly.PeriodFrom(generic.Date(2025, time.March, 1))
	next := generic.CycleMonthly.NextPeriod(m)
	assert.Equal(t, generic.Date(2025, time.April, 1), next.Start)
	assert.Equal(t, generic.Date(2025, time.May, 1), next.End)

	assert.Equal(t, 12, generic.CycleAnnual.Months())
	assert.Equal(t, 6, generic.CycleSemiAnnual.Months())

	_, err := generic.ParsePaymentCycle("WEEKLY")
	assert.ErrorIs(t, err, generic.ErrValidation)
	c, err := generic.ParsePaymentCycle("MONTHLY")
	require.NoError(t, err)
	assert.Equal(t, generic.CycleMonthly, c)
}

func TestDaysBetween(t *testing.T) {
	from := generic.Date(2025, time.March, 8).Add(22 * time.Hour)
	to := generic.Date(2025, time.March, 9).Add(1 * time.Hour)

	assert.Equal(t, 1, generic.DaysBetween(from, to))
	assert.Equal(t, -1, generic.DaysBetween(to, from))
	assert.Equal(t, generic.Date(2025, time.March, 9), generic.StartOfDay(to))
}

func TestFixedClock(t *testing.T) {
	c := &generic.FixedClock{At: generic.Date(2025, time.March, 1)}
	assert.Equal(t, generic.Date(2025, time.March, 1), c.Now())
	c.Set(generic.Date(2025, time.March, 11).Add(time.Hour))
	assert.Equal(t, 1, c.Now().Hour())
	assert.Equal(t, 11, c.Now().Day())
}

// =============================================================================
// RATE SCHEDULE
// =============================================================================

func TestRateSchedule_StepFunction(t *testing.T) {
	rs, err := generic.NewRateSchedule(
		generic.RateTier{AfterMonths: 3, Rate: generic.MustParseRate("0.12")},
		generic.RateTier{AfterMonths: 1, Rate: generic.MustParseRate("0.05")},
		generic.RateTier{AfterMonths: 2, Rate: generic.MustParseRate("0.08")},
	)
	require.NoError(t, err)

	want := map[int]string{0: "0", 1: "0.05", 2: "0.08", 3: "0.12", 7: "0.12"}
	for months, rate := range want {
		assert.True(t, rs.RateFor(months).Equal(generic.MustParseRate(rate)), "months=%d", months)
	}
}

func TestRateSchedule_RejectsDecreasingRates(t *testing.T) {
	_, err := generic.NewRateSchedule(
		generic.RateTier{AfterMonths: 1, Rate: generic.MustParseRate("0.10")},
		generic.RateTier{AfterMonths: 2, Rate: generic.MustParseRate("0.05")},
	)
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tiers[1].rate", verr.Field)
}

func TestRateSchedule_RejectsBadThresholds(t *testing.T) {
	_, err := generic.NewRateSchedule(generic.RateTier{AfterMonths: 0, Rate: generic.MustParseRate("0.05")})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = generic.NewRateSchedule(
		generic.RateTier{AfterMonths: 1, Rate: generic.MustParseRate("0.05")},
		generic.RateTier{AfterMonths: 1, Rate: generic.MustParseRate("0.06")},
	)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorTaxonomy(t *testing.T) {
	conflict := fmt.Errorf("saving: %w", &generic.StateConflictError{Resource: "bill", ID: "b", Reason: "version"})
	assert.True(t, generic.IsRetryable(conflict))
	assert.False(t, generic.IsClientError(conflict))

	notFound := &generic.NotFoundError{Kind: "bill", ID: "x"}
	assert.True(t, generic.IsNotFound(notFound))
	assert.Equal(t, "bill not found: x", notFound.Error())

	cause := errors.New("broker unreachable")
	ext := &generic.ExternalDependencyError{Dependency: "amqp", Err: cause}
	assert.ErrorIs(t, ext, generic.ErrExternalDependency)
	assert.ErrorIs(t, ext, cause)

	assert.True(t, generic.IsClientError(&generic.ValidationError{Field: "amount", Reason: "negative"}))
	assert.True(t, generic.IsClientError(generic.ErrBillSettled))
}
