/*
Package config loads the server configuration from the environment.

PURPOSE:
  One Config value built at startup from environment variables (optionally
  seeded from .env files) and handed to cmd/server. Billing thresholds come
  from a penalty policy (PENALTY_POLICY_JSON, see factory) with individual
  keys overriding single fields on top of it.

PRECEDENCE (highest first):
  1. Process environment
  2. .env files passed to LoadConfig (never override 1)
  3. Defaults below / billing.DefaultPolicy()

SEE ALSO:
  - factory/penalty.go: Policy JSON format
  - cmd/server/main.go: Wiring
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/rental-billing/billing"
	"github.com/warp/rental-billing/factory"
	"github.com/warp/rental-billing/generic"
)

// Config holds all configuration for the billing server.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DBPath      string `mapstructure:"DB_PATH"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"` // comma separated

	// Policy. Nil/empty means "keep the policy value".
	PenaltyPolicyJSON string `mapstructure:"PENALTY_POLICY_JSON"` // inline JSON or file path
	WarnAfterDays     *int   `mapstructure:"WARN_AFTER_DAYS"`
	WarnWindowDays    *int   `mapstructure:"WARN_WINDOW_DAYS"`
	PenaltyAfterDays  *int   `mapstructure:"PENALTY_AFTER_DAYS"`
	DaysPerMonth      *int   `mapstructure:"DAYS_PER_MONTH"`
	DueDays           *int   `mapstructure:"DUE_DAYS"`
	MoneyScale        *int32 `mapstructure:"MONEY_SCALE"`
	PartialFeeMode    string `mapstructure:"PARTIAL_FEE_MODE"`
	PartialFeeValue   string `mapstructure:"PARTIAL_FEE_VALUE"`
	OverpayTolerance  string `mapstructure:"OVERPAY_TOLERANCE"`

	// Scheduler
	SchedulerEnabled bool   `mapstructure:"SCHEDULER_ENABLED"`
	TickSchedule     string `mapstructure:"TICK_SCHEDULE"`
	AuditSchedule    string `mapstructure:"AUDIT_SCHEDULE"`

	// Notifications. Empty disables the sink.
	AMQPURL          string `mapstructure:"AMQP_URL"`
	NotifyExchange   string `mapstructure:"NOTIFY_EXCHANGE"`
	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `mapstructure:"TWILIO_FROM_NUMBER"`
}

var keys = []string{
	"PORT", "DB_PATH", "LOG_LEVEL", "CORS_ORIGINS",
	"PENALTY_POLICY_JSON", "WARN_AFTER_DAYS", "WARN_WINDOW_DAYS", "PENALTY_AFTER_DAYS",
	"DAYS_PER_MONTH", "DUE_DAYS", "MONEY_SCALE", "PARTIAL_FEE_MODE", "PARTIAL_FEE_VALUE",
	"OVERPAY_TOLERANCE", "SCHEDULER_ENABLED", "TICK_SCHEDULE", "AUDIT_SCHEDULE",
	"AMQP_URL", "NOTIFY_EXCHANGE", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
}

// LoadConfig reads .env files (missing ones are skipped) and the environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DB_PATH", "./data/billing.db")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("CORS_ORIGINS", "*")
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("TICK_SCHEDULE", "@every 1h")
	viper.SetDefault("AUDIT_SCHEDULE", "0 3 * * *") // 03:00 daily
	viper.SetDefault("NOTIFY_EXCHANGE", "billing.events")
	viper.AutomaticEnv()

	// Bind explicitly so unset keys still reach Unmarshal
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Origins splits CORS_ORIGINS.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Policy builds the billing policy: PENALTY_POLICY_JSON first, then the
// single-field overrides.
func (c *Config) Policy() (billing.Policy, error) {
	p, err := factory.NewPolicyFactory().LoadPolicy(c.PenaltyPolicyJSON)
	if err != nil {
		return billing.Policy{}, err
	}

	override(&p.WarnAfterDays, c.WarnAfterDays)
	override(&p.WarnWindowDays, c.WarnWindowDays)
	override(&p.PenaltyAfterDays, c.PenaltyAfterDays)
	override(&p.DaysPerMonth, c.DaysPerMonth)
	override(&p.DefaultDue, c.DueDays)
	if c.MoneyScale != nil {
		p.MoneyScale = *c.MoneyScale
	}
	if c.PartialFeeMode != "" {
		p.PartialFee.Mode = billing.FeeMode(strings.ToLower(c.PartialFeeMode))
	}
	if c.PartialFeeValue != "" {
		v, err := decimal.NewFromString(c.PartialFeeValue)
		if err != nil {
			return billing.Policy{}, &generic.ValidationError{Field: "PARTIAL_FEE_VALUE", Reason: err.Error()}
		}
		p.PartialFee.Value = v
	}
	if c.OverpayTolerance != "" {
		m, err := generic.ParseMoney(c.OverpayTolerance)
		if err != nil {
			return billing.Policy{}, &generic.ValidationError{Field: "OVERPAY_TOLERANCE", Reason: err.Error()}
		}
		p.OverpayTolerance = m
	}

	if err := p.Validate(); err != nil {
		return billing.Policy{}, err
	}
	return p, nil
}

func override(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
