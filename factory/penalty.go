/*
Package factory provides JSON to Go penalty policy conversion.

PURPOSE:
  Converts JSON penalty policy definitions into billing.Policy. Operators
  can change the rate ladder, thresholds and fees without a code change:
  the server reads PENALTY_POLICY_JSON (inline JSON or a file path) at
  startup and hands the result to every billing component.

JSON SCHEMA:
  {
    "id": "standard",
    "name": "Standard rental penalties",
    "rates": [
      {"after_months": 1, "rate": "0.05"},
      {"after_months": 2, "rate": "0.08"},
      {"after_months": 3, "rate": "0.12"},
      {"after_months": 6, "rate": "0.20"}
    ],
    "days_per_month": 30,
    "warn_after_days": 1,
    "warn_window_days": 3,
    "penalty_after_days": 3,
    "partial_fee": {"mode": "percent", "value": "0.01"},
    "overpay_tolerance": "0",
    "due_days": {"MONTHLY": 7, "QUARTERLY": 10},
    "default_due_days": 7,
    "money_scale": 0
  }

DEFAULTS:
  Every omitted field keeps its billing.DefaultPolicy() value. An empty
  "rates" list keeps the default ladder; to disable penalties set
  penalty_after_days very high rather than removing the ladder.

USAGE:
  f := NewPolicyFactory()
  policy, err := f.ParsePolicy(StandardPenaltyJSON())

  calc := billing.NewCalculator(policy)

SEE ALSO:
  - billing/interest.go: Policy type definition
  - generic/rate.go: RateSchedule validation
  - config/config.go: Where the JSON comes from
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PenaltyPolicyJSON is the JSON representation of a penalty policy.
type PenaltyPolicyJSON struct {
	ID               string           `json:"id,omitempty"`
	Name             string           `json:"name,omitempty"`
	Rates            []RateTierJSON   `json:"rates,omitempty"`
	DaysPerMonth     *int             `json:"days_per_month,omitempty"`
	WarnAfterDays    *int             `json:"warn_after_days,omitempty"`
	WarnWindowDays   *int             `json:"warn_window_days,omitempty"`
	PenaltyAfterDays *int             `json:"penalty_after_days,omitempty"`
	PartialFee       *FeeJSON         `json:"partial_fee,omitempty"`
	OverpayTolerance *decimal.Decimal `json:"overpay_tolerance,omitempty"`
	DueDays          map[string]int   `json:"due_days,omitempty"` // keyed by payment cycle
	DefaultDueDays   *int             `json:"default_due_days,omitempty"`
	MoneyScale       *int32           `json:"money_scale,omitempty"`
}

// RateTierJSON is one step of the rate ladder. Rate is a fraction (0.05 = 5%).
type RateTierJSON struct {
	AfterMonths int             `json:"after_months"`
	Rate        decimal.Decimal `json:"rate"`
}

// FeeJSON prices partial payments made while overdue.
type FeeJSON struct {
	Mode  string          `json:"mode"` // flat, percent
	Value decimal.Decimal `json:"value"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON penalty policies to billing.Policy.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a validated Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (billing.Policy, error) {
	var pj PenaltyPolicyJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pj); err != nil {
		return billing.Policy{}, fmt.Errorf("failed to parse penalty policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadPolicy accepts either inline JSON or a path to a JSON file.
// An empty source yields the default policy.
func (f *PolicyFactory) LoadPolicy(source string) (billing.Policy, error) {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		return billing.DefaultPolicy(), nil
	case strings.HasPrefix(source, "{"):
		return f.ParsePolicy(source)
	}
	b, err := os.ReadFile(source)
	if err != nil {
		return billing.Policy{}, fmt.Errorf("failed to read penalty policy file: %w", err)
	}
	return f.ParsePolicy(string(b))
}

// FromJSON overlays pj on billing.DefaultPolicy() and validates the result.
func (f *PolicyFactory) FromJSON(pj PenaltyPolicyJSON) (billing.Policy, error) {
	p := billing.DefaultPolicy()

	if len(pj.Rates) > 0 {
		tiers := make([]generic.RateTier, len(pj.Rates))
		for i, r := range pj.Rates {
			tiers[i] = generic.RateTier{AfterMonths: r.AfterMonths, Rate: r.Rate}
		}
		rates, err := generic.NewRateSchedule(tiers...)
		if err != nil {
			return billing.Policy{}, err
		}
		p.Rates = rates
	}

	setInt(&p.DaysPerMonth, pj.DaysPerMonth)
	setInt(&p.WarnAfterDays, pj.WarnAfterDays)
	setInt(&p.WarnWindowDays, pj.WarnWindowDays)
	setInt(&p.PenaltyAfterDays, pj.PenaltyAfterDays)
	setInt(&p.DefaultDue, pj.DefaultDueDays)
	if pj.MoneyScale != nil {
		p.MoneyScale = *pj.MoneyScale
	}

	if pj.PartialFee != nil {
		p.PartialFee = billing.FeePolicy{
			Mode:  billing.FeeMode(strings.ToLower(pj.PartialFee.Mode)),
			Value: pj.PartialFee.Value,
		}
	}
	if pj.OverpayTolerance != nil {
		p.OverpayTolerance = generic.NewMoneyFromDecimal(*pj.OverpayTolerance)
	}

	if len(pj.DueDays) > 0 {
		p.DueDays = make(map[generic.PaymentCycle]int, len(pj.DueDays))
		for name, days := range pj.DueDays {
			cycle, err := generic.ParsePaymentCycle(strings.ToUpper(name))
			if err != nil {
				return billing.Policy{}, err
			}
			p.DueDays[cycle] = days
		}
	}

	if err := p.Validate(); err != nil {
		return billing.Policy{}, err
	}
	return p, nil
}

// ToJSON converts a Policy back to its JSON form. Every field is explicit.
func (f *PolicyFactory) ToJSON(p billing.Policy) PenaltyPolicyJSON {
	pj := PenaltyPolicyJSON{
		DaysPerMonth:     intPtr(p.DaysPerMonth),
		WarnAfterDays:    intPtr(p.WarnAfterDays),
		WarnWindowDays:   intPtr(p.WarnWindowDays),
		PenaltyAfterDays: intPtr(p.PenaltyAfterDays),
		PartialFee:       &FeeJSON{Mode: string(p.PartialFee.Mode), Value: p.PartialFee.Value},
		DefaultDueDays:   intPtr(p.DefaultDue),
	}
	scale := p.MoneyScale
	pj.MoneyScale = &scale
	tolerance := p.OverpayTolerance.Value
	pj.OverpayTolerance = &tolerance

	for _, t := range p.Rates.Tiers {
		pj.Rates = append(pj.Rates, RateTierJSON{AfterMonths: t.AfterMonths, Rate: t.Rate})
	}

	if len(p.DueDays) > 0 {
		pj.DueDays = make(map[string]int, len(p.DueDays))
		for cycle, days := range p.DueDays {
			pj.DueDays[string(cycle)] = days
		}
	}
	return pj
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardPenaltyJSON is the default ladder: 5% / 8% / 12% / 20% after
// 1 / 2 / 3 / 6 months, warnings from day 1, penalties from day 3.
func StandardPenaltyJSON() string {
	return `{
		"id": "standard",
		"name": "Standard rental penalties",
		"rates": [
			{"after_months": 1, "rate": "0.05"},
			{"after_months": 2, "rate": "0.08"},
			{"after_months": 3, "rate": "0.12"},
			{"after_months": 6, "rate": "0.20"}
		],
		"days_per_month": 30,
		"warn_after_days": 1,
		"warn_window_days": 3,
		"penalty_after_days": 3,
		"partial_fee": {"mode": "percent", "value": "0.01"},
		"default_due_days": 7
	}`
}

// FlatFeePenaltyJSON charges a fixed fee per late partial payment and
// allows paying up to tolerance above the outstanding amount.
func FlatFeePenaltyJSON(fee, tolerance int64) string {
	return fmt.Sprintf(`{
		"id": "flat-fee",
		"name": "Flat partial-payment fee",
		"partial_fee": {"mode": "flat", "value": %d},
		"overpay_tolerance": %d
	}`, fee, tolerance)
}

// LongCyclePenaltyJSON gives quarterly and longer contracts more time to pay.
func LongCyclePenaltyJSON() string {
	return `{
		"id": "long-cycle",
		"name": "Long cycle due dates",
		"due_days": {"MONTHLY": 7, "QUARTERLY": 14, "SEMI_ANNUAL": 21, "ANNUAL": 30}
	}`
}

// Presets lists the built-in policies by id.
func Presets() map[string]string {
	return map[string]string{
		"standard":   StandardPenaltyJSON(),
		"flat-fee":   FlatFeePenaltyJSON(50_000, 1_000),
		"long-cycle": LongCyclePenaltyJSON(),
	}
}

// PresetIDs returns the preset ids in a stable order.
func PresetIDs() []string {
	ids := make([]string, 0, len(Presets()))
	for id := range Presets() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// HELPERS
// =============================================================================

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func intPtr(v int) *int {
	return &v
}
