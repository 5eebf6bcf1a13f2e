// Package config provides configuration types and defaults for tradefabric.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration options for the trading system.
type Config struct {
	LogPath  string `mapstructure:"log_path"`
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error

	Broker      BrokerConfig      `mapstructure:"broker"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	Technical   TechnicalConfig   `mapstructure:"technical"`
	Fundamental FundamentalConfig `mapstructure:"fundamental"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Asset       AssetConfig       `mapstructure:"asset"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// BrokerConfig tunes the message broker.
type BrokerConfig struct {
	// CacheTTL bounds the age of subscriber snapshots.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// InboxCapacity bounds each agent inbox. Zero means unbounded.
	InboxCapacity int `mapstructure:"inbox_capacity"`
}

// RuntimeConfig tunes the shared agent loop.
type RuntimeConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
	IdleYield     time.Duration `mapstructure:"idle_yield"`
}

// TechnicalConfig tunes the technical analysis agent.
type TechnicalConfig struct {
	Symbols []string `mapstructure:"symbols"`
	// Timeframes restricts which candle timeframes are analyzed. Empty
	// accepts every timeframe on the feed.
	Timeframes     []string      `mapstructure:"timeframes"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
}

// FundamentalConfig tunes the fundamental analysis agent.
type FundamentalConfig struct {
	CalendarPath   string        `mapstructure:"calendar_path"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
}

// StrategyConfig tunes the strategy optimization agent.
type StrategyConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	// StatePath is the JSON file for strategy parameters and performance
	// snapshots. Empty disables persistence.
	StatePath string `mapstructure:"state_path"`
	// MinConfidence gates proposal generation (0..1 score).
	MinConfidence float64 `mapstructure:"min_confidence"`
	// DefaultSize is the proposal size before risk adjustment, in units.
	DefaultSize float64 `mapstructure:"default_size"`
	// ProposalTimeLimit is the expiry window encoded on each proposal.
	ProposalTimeLimit time.Duration `mapstructure:"proposal_time_limit"`
	// SignalFreshness bounds how old a technical signal may be when it is
	// correlated into a proposal.
	SignalFreshness time.Duration `mapstructure:"signal_freshness"`
}

// RiskConfig tunes the risk management agent.
type RiskConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	// StartingBalance is the simulated account balance in account currency.
	StartingBalance float64 `mapstructure:"starting_balance"`
	// MaxRiskPerTrade caps per-trade risk as a fraction of the account.
	MaxRiskPerTrade float64 `mapstructure:"max_risk_per_trade"`
	// MaxPositionFraction caps one position's size as a fraction of balance.
	MaxPositionFraction float64 `mapstructure:"max_position_fraction"`
	// MaxDailyLossFraction is the daily circuit-breaker threshold.
	MaxDailyLossFraction float64 `mapstructure:"max_daily_loss_fraction"`
	// MaxCurrencyExposure caps combined exposure per currency as a fraction
	// of balance.
	MaxCurrencyExposure float64 `mapstructure:"max_currency_exposure"`
}

// AssetConfig tunes the asset selection agent.
type AssetConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	// PrimarySymbols are preferred instruments; fallbacks substitute when a
	// primary is outside trading hours.
	PrimarySymbols  []string `mapstructure:"primary_symbols"`
	FallbackSymbols []string `mapstructure:"fallback_symbols"`
	// TradingHoursPath is a YAML table of per-weekday open/close windows.
	// Empty uses the built-in forex schedule.
	TradingHoursPath string `mapstructure:"trading_hours_path"`
	// ToleranceMinutes widens the open window at both edges.
	ToleranceMinutes int `mapstructure:"tolerance_minutes"`
}

// ExecutionConfig tunes the trade execution agent.
type ExecutionConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	// GatewayType selects the broker adapter. Currently "simulation".
	GatewayType string `mapstructure:"gateway_type"`
	Demo        bool   `mapstructure:"demo"`
	// Slippage model: "fixed" or "proportional", with its magnitude.
	SlippageModel     string  `mapstructure:"slippage_model"`
	SlippageMagnitude float64 `mapstructure:"slippage_magnitude"`
	// DefaultHoldMinutes bounds how long a position may stay open.
	DefaultHoldMinutes int `mapstructure:"default_hold_minutes"`
	// AvailabilityMaxAge triggers a refresh request when the cached asset
	// availability is older.
	AvailabilityMaxAge time.Duration `mapstructure:"availability_max_age"`
	// Connect retry policy.
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		LogPath:  "tradefabric.log",
		LogLevel: "info",
		Broker: BrokerConfig{
			CacheTTL: 5 * time.Second,
		},
		Runtime: RuntimeConfig{
			BatchSize:     10,
			BatchInterval: 500 * time.Millisecond,
			ErrorBackoff:  time.Second,
			IdleYield:     10 * time.Millisecond,
		},
		Technical: TechnicalConfig{
			Symbols:        []string{"EUR/USD", "GBP/USD", "USD/JPY"},
			Timeframes:     []string{"5m", "1h"},
			UpdateInterval: 5 * time.Second,
		},
		Fundamental: FundamentalConfig{
			UpdateInterval: 30 * time.Second,
		},
		Strategy: StrategyConfig{
			UpdateInterval:    10 * time.Second,
			MinConfidence:     0.6,
			DefaultSize:       10000,
			ProposalTimeLimit: time.Hour,
			SignalFreshness:   5 * time.Minute,
		},
		Risk: RiskConfig{
			UpdateInterval:       15 * time.Second,
			StartingBalance:      100000,
			MaxRiskPerTrade:      0.02,
			MaxPositionFraction:  0.10,
			MaxDailyLossFraction: 0.05,
			MaxCurrencyExposure:  0.50,
		},
		Asset: AssetConfig{
			UpdateInterval:   time.Minute,
			PrimarySymbols:   []string{"EUR/USD", "GBP/USD", "USD/JPY"},
			FallbackSymbols:  []string{"USD/CHF", "AUD/USD"},
			ToleranceMinutes: 15,
		},
		Execution: ExecutionConfig{
			UpdateInterval:     time.Second,
			GatewayType:        "simulation",
			Demo:               true,
			SlippageModel:      "fixed",
			SlippageMagnitude:  0.0001,
			DefaultHoldMinutes: 240,
			AvailabilityMaxAge: 5 * time.Minute,
			ConnectAttempts:    5,
			ConnectBackoff:     time.Second,
		},
		Tracing: TracingConfig{
			Exporter:   "none",
			SampleRate: 1.0,
		},
	}
}

// Load reads the config file at path on top of the defaults. An empty path
// returns the defaults; a missing file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Risk.StartingBalance <= 0 {
		return fmt.Errorf("risk.starting_balance must be positive")
	}
	for name, frac := range map[string]float64{
		"risk.max_risk_per_trade":      c.Risk.MaxRiskPerTrade,
		"risk.max_position_fraction":   c.Risk.MaxPositionFraction,
		"risk.max_daily_loss_fraction": c.Risk.MaxDailyLossFraction,
		"risk.max_currency_exposure":   c.Risk.MaxCurrencyExposure,
	} {
		if frac <= 0 || frac > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", name, frac)
		}
	}
	switch c.Execution.SlippageModel {
	case "fixed", "proportional":
	default:
		return fmt.Errorf("execution.slippage_model must be fixed or proportional, got %q",
			c.Execution.SlippageModel)
	}
	switch c.Tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be none, file, stdout or otlp, got %q",
			c.Tracing.Exporter)
	}
	return nil
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/tradefabric/traces/traces.jsonl or empty string if the
// home dir is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tradefabric", "traces", "traces.jsonl")
}
