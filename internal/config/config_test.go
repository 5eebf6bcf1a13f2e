package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "simulation", cfg.Execution.GatewayType)
	require.Equal(t, 0.02, cfg.Risk.MaxRiskPerTrade)
	require.NotEmpty(t, cfg.Technical.Symbols)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
risk:
  starting_balance: 50000
  max_risk_per_trade: 0.01
strategy:
  proposal_time_limit: 30m
execution:
  slippage_model: proportional
  slippage_magnitude: 0.001
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, float64(50000), cfg.Risk.StartingBalance)
	require.Equal(t, 0.01, cfg.Risk.MaxRiskPerTrade)
	require.Equal(t, 30*time.Minute, cfg.Strategy.ProposalTimeLimit)
	require.Equal(t, "proportional", cfg.Execution.SlippageModel)
	// Untouched sections keep their defaults.
	require.Equal(t, 0.05, cfg.Risk.MaxDailyLossFraction)
	require.Equal(t, 10, cfg.Runtime.BatchSize)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Risk.MaxRiskPerTrade = 1.5
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Risk.StartingBalance = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Execution.SlippageModel = "chaotic"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Tracing.Exporter = "jaeger"
	require.Error(t, cfg.Validate())
}

func TestLoad_BadSlippageModelRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("execution:\n  slippage_model: wild\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
