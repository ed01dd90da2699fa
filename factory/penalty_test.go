package factory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

func TestParsePolicy_StandardMatchesDefault(t *testing.T) {
	f := NewPolicyFactory()

	p, err := f.ParsePolicy(StandardPenaltyJSON())
	require.NoError(t, err)

	def := billing.DefaultPolicy()
	assert.Equal(t, def.WarnAfterDays, p.WarnAfterDays)
	assert.Equal(t, def.PenaltyAfterDays, p.PenaltyAfterDays)
	assert.Equal(t, def.DaysPerMonth, p.DaysPerMonth)
	require.Len(t, p.Rates.Tiers, len(def.Rates.Tiers))
	for i, tier := range def.Rates.Tiers {
		assert.Equal(t, tier.AfterMonths, p.Rates.Tiers[i].AfterMonths)
		assert.True(t, tier.Rate.Equal(p.Rates.Tiers[i].Rate), "tier %d", i)
	}
	assert.Equal(t, billing.FeePercent, p.PartialFee.Mode)
}

func TestParsePolicy_OverlaysDefaults(t *testing.T) {
	// GIVEN: only the fee and tolerance are set
	p, err := NewPolicyFactory().ParsePolicy(FlatFeePenaltyJSON(50_000, 1_000))
	require.NoError(t, err)

	// THEN: the rest keeps the default values
	assert.Equal(t, billing.FeeFlat, p.PartialFee.Mode)
	assert.Equal(t, "50000", p.PartialFee.Value.String())
	assert.Equal(t, "1000", p.OverpayTolerance.String())
	assert.Equal(t, 3, p.PenaltyAfterDays)
	assert.True(t, p.Rates.RateFor(2).Equal(generic.MustParseRate("0.08")))
}

func TestParsePolicy_DueDaysByCycle(t *testing.T) {
	p, err := NewPolicyFactory().ParsePolicy(LongCyclePenaltyJSON())
	require.NoError(t, err)

	assert.Equal(t, 14, p.DueAfter(generic.CycleQuarterly))
	assert.Equal(t, 30, p.DueAfter(generic.CycleAnnual))
}

func TestParsePolicy_Rejects(t *testing.T) {
	f := NewPolicyFactory()
	cases := map[string]string{
		"decreasing rates": `{"rates": [{"after_months": 1, "rate": "0.1"}, {"after_months": 2, "rate": "0.05"}]}`,
		"zero month tier":  `{"rates": [{"after_months": 0, "rate": "0.1"}]}`,
		"unknown cycle":    `{"due_days": {"WEEKLY": 3}}`,
		"unknown fee mode": `{"partial_fee": {"mode": "tiered", "value": 1}}`,
		"zero month size":  `{"days_per_month": 0}`,
		"unknown field":    `{"penalty_rate": 5}`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParsePolicy(js)
			assert.Error(t, err)
		})
	}

	_, err := f.ParsePolicy(`{"days_per_month": 0}`)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewPolicyFactory()
	orig, err := f.ParsePolicy(LongCyclePenaltyJSON())
	require.NoError(t, err)

	b, err := json.Marshal(f.ToJSON(orig))
	require.NoError(t, err)
	back, err := f.ParsePolicy(string(b))
	require.NoError(t, err)

	assert.Equal(t, orig.DueDays, back.DueDays)
	assert.Equal(t, orig.WarnWindowDays, back.WarnWindowDays)
	assert.True(t, orig.PartialFee.Value.Equal(back.PartialFee.Value))
	assert.Len(t, back.Rates.Tiers, len(orig.Rates.Tiers))
}

func TestLoadPolicy_Sources(t *testing.T) {
	f := NewPolicyFactory()

	p, err := f.LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, billing.DefaultPolicy().DefaultDue, p.DefaultDue)

	p, err = f.LoadPolicy(`{"default_due_days": 5}`)
	require.NoError(t, err)
	assert.Equal(t, 5, p.DefaultDue)

	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"penalty_after_days": 10}`), 0o600))
	p, err = f.LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 10, p.PenaltyAfterDays)

	_, err = f.LoadPolicy(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPresetsAllParse(t *testing.T) {
	f := NewPolicyFactory()
	assert.Equal(t, []string{"flat-fee", "long-cycle", "standard"}, PresetIDs())
	for id, js := range Presets() {
		_, err := f.ParsePolicy(js)
		assert.NoError(t, err, id)
	}
}
