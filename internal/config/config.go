package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for quantsim.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Backtest BacktestConfig `yaml:"backtest"`
	Risk     RiskConfig     `yaml:"risk"`
	Logging  Logging        `yaml:"logging"`
}

// Storage holds paths for local historical-data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// BacktestConfig defines simulation parameters for a run.
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	CommissionPct  float64 `yaml:"commission_pct"`
	SlippagePct    float64 `yaml:"slippage_pct"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
}

// RiskConfig defines the advisory pre-trade risk thresholds.
type RiskConfig struct {
	MaxPositionPct    float64 `yaml:"max_position_pct"`
	MaxVolatility     float64 `yaml:"max_volatility"`
	MinSentimentScore float64 `yaml:"min_sentiment_score"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with the standard simulation defaults:
// $100k capital, 0.1% commission, 0.05% slippage, 2% risk-free rate, and the
// 10% / 3% / 0.5 risk thresholds.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/quantsim.db",
		},
		Backtest: BacktestConfig{
			InitialCapital: 100000,
			CommissionPct:  0.001,
			SlippagePct:    0.0005,
			RiskFreeRate:   0.02,
		},
		Risk: RiskConfig{
			MaxPositionPct:    0.10,
			MaxVolatility:     0.03,
			MinSentimentScore: 0.5,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set. The risk variable
// names match the ones the research tooling already exports.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v, ok := envFloat("INITIAL_CAPITAL"); ok {
		cfg.Backtest.InitialCapital = v
	}
	if v, ok := envFloat("MAX_POSITION_PCT"); ok {
		cfg.Risk.MaxPositionPct = v
	}
	if v, ok := envFloat("MAX_VOLATILITY"); ok {
		cfg.Risk.MaxVolatility = v
	}
	if v, ok := envFloat("MIN_SENTIMENT_SCORE"); ok {
		cfg.Risk.MinSentimentScore = v
	}
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
