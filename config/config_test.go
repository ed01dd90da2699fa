package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/generic"
)

// clearEnv empties every config key for the test and restores it after.
func clearEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/billing.db", cfg.DBPath)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, "@every 1h", cfg.TickSchedule)
	assert.Equal(t, []string{"*"}, cfg.Origins())
	assert.Nil(t, cfg.WarnAfterDays)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, billing.DefaultPolicy().PenaltyAfterDays, p.PenaltyAfterDays)
}

func TestLoadConfig_EnvOverridesPolicy(t *testing.T) {
	clearEnv(t)
	t.Setenv("PENALTY_POLICY_JSON", `{"penalty_after_days": 10, "warn_after_days": 2}`)
	t.Setenv("PENALTY_AFTER_DAYS", "5")
	t.Setenv("DUE_DAYS", "10")
	t.Setenv("PARTIAL_FEE_MODE", "FLAT")
	t.Setenv("PARTIAL_FEE_VALUE", "20000")
	t.Setenv("OVERPAY_TOLERANCE", "500")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Origins())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 5, p.PenaltyAfterDays, "single key wins over the JSON")
	assert.Equal(t, 2, p.WarnAfterDays, "JSON wins over the default")
	assert.Equal(t, 10, p.DueAfter(generic.CycleMonthly))
	assert.Equal(t, billing.FeeFlat, p.PartialFee.Mode)
	assert.Equal(t, "20000", p.PartialFee.Value.String())
	assert.Equal(t, "500", p.OverpayTolerance.String())
}

func TestLoadConfig_InvalidPolicy(t *testing.T) {
	clearEnv(t)
	t.Setenv("DAYS_PER_MONTH", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	_, err = cfg.Policy()
	assert.ErrorIs(t, err, generic.ErrValidation)

	t.Setenv("DAYS_PER_MONTH", "")
	os.Unsetenv("DAYS_PER_MONTH")
	t.Setenv("OVERPAY_TOLERANCE", "lots")
	viper.Reset()
	cfg, err = LoadConfig()
	require.NoError(t, err)
	_, err = cfg.Policy()
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestLoadConfig_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")

	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("PORT=7000\nDB_PATH=/tmp/from-dotenv.db\n"), 0o600))

	cfg, err := LoadConfig(dotenv, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.DBPath)
}
