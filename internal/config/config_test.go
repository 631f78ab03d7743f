package config_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokomarket/payment-service/internal/config"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "https://api.paystack.co", cfg.Paystack.BaseURL)
	assert.True(t, cfg.Ledger.CommissionRate.Equal(decimal.RequireFromString("0.15")))
	assert.True(t, cfg.Ledger.WithdrawalFee.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 600, cfg.Ledger.OTPTTLSeconds)
	assert.Equal(t, 3, cfg.Ledger.OTPMaxAttempts)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("COMMISSION_RATE", "0.2")
	t.Setenv("WITHDRAWAL_FEE", "25")
	t.Setenv("FLUTTERWAVE_WEBHOOK_HASH", "hash-1")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Ledger.CommissionRate.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, cfg.Ledger.WithdrawalFee.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "hash-1", cfg.Flutterwave.WebhookHash)
}

func TestLoadFromEnvRequiresDBPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")

	_, err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoadFromEnvRejectsCommissionAboveOne(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("COMMISSION_RATE", "1.5")

	_, err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMMISSION_RATE")
}

func TestLoadFromEnvRejectsNegativeFee(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("WITHDRAWAL_FEE", "-10")

	_, err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WITHDRAWAL_FEE")
}

func TestConnectionString(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "payments")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)
	conn := cfg.Database.ConnectionString()
	assert.Contains(t, conn, "db.internal")
	assert.Contains(t, conn, "payments")
	assert.Contains(t, conn, "secret")
}
