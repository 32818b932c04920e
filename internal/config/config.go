// Package config loads the engine configuration from YAML with environment
// overrides for exchange credentials.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Exchange struct {
		Name         string `yaml:"name"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`

	Trading struct {
		Symbols            []string `yaml:"symbols"`
		CandleInterval     string   `yaml:"candle_interval"`
		CandleLimit        int      `yaml:"candle_limit"`
		DecisionIntervalMs int      `yaml:"decision_interval_ms"`
		MonitorIntervalMs  int      `yaml:"monitor_interval_ms"`
		PositionSize       float64  `yaml:"position_size"`
		MinConfidence      float64  `yaml:"min_confidence"`
		PortfolioValue     float64  `yaml:"portfolio_value"`
		UseKellySizing     bool     `yaml:"use_kelly_sizing"`
	} `yaml:"trading"`

	Selector struct {
		AutoSwitch          bool    `yaml:"auto_switch"`
		MinRegimeConfidence float64 `yaml:"min_regime_confidence"`
		DefaultStrategy     string  `yaml:"default_strategy"`
	} `yaml:"selector"`

	Risk struct {
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		CooldownMinutes      int     `yaml:"cooldown_minutes"`
		MaxSymbolExposurePct float64 `yaml:"max_symbol_exposure_pct"`
		MaxTotalExposurePct  float64 `yaml:"max_total_exposure_pct"`
		DrawdownAlertPct     float64 `yaml:"drawdown_alert_pct"`
		KellySafetyFraction  float64 `yaml:"kelly_safety_fraction"`
		MinTradesForVaR      int     `yaml:"min_trades_for_var"`
	} `yaml:"risk"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

// Load reads the YAML file, fills defaults and overlays credentials from the
// environment (a .env file is honored when present).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}
	if c.Trading.CandleInterval == "" {
		c.Trading.CandleInterval = "1"
	}
	if c.Trading.CandleLimit == 0 {
		c.Trading.CandleLimit = 200
	}
	if c.Trading.DecisionIntervalMs == 0 {
		c.Trading.DecisionIntervalMs = 60000
	}
	if c.Trading.MonitorIntervalMs == 0 {
		c.Trading.MonitorIntervalMs = 5000
	}
	if c.Trading.PositionSize == 0 {
		c.Trading.PositionSize = 100
	}
	if c.Trading.MinConfidence == 0 {
		c.Trading.MinConfidence = 55
	}
	if c.Trading.PortfolioValue == 0 {
		c.Trading.PortfolioValue = 10000
	}
	if c.Selector.MinRegimeConfidence == 0 {
		c.Selector.MinRegimeConfidence = 60
	}
	if c.Selector.DefaultStrategy == "" {
		c.Selector.DefaultStrategy = "multi-indicator"
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = 3
	}
	if c.Risk.CooldownMinutes == 0 {
		c.Risk.CooldownMinutes = 60
	}
	if c.Risk.MaxSymbolExposurePct == 0 {
		c.Risk.MaxSymbolExposurePct = 25
	}
	if c.Risk.MaxTotalExposurePct == 0 {
		c.Risk.MaxTotalExposurePct = 75
	}
	if c.Risk.DrawdownAlertPct == 0 {
		c.Risk.DrawdownAlertPct = 20
	}
	if c.Risk.KellySafetyFraction == 0 {
		c.Risk.KellySafetyFraction = 0.25
	}
	if c.Risk.MinTradesForVaR == 0 {
		c.Risk.MinTradesForVaR = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "engine.db"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
}

func (c *Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must list at least one symbol")
	}
	if c.Trading.PositionSize <= 0 {
		return fmt.Errorf("trading.position_size must be positive")
	}
	if c.Trading.PositionSize > c.Trading.PortfolioValue {
		return fmt.Errorf("trading.position_size %.2f exceeds portfolio value %.2f",
			c.Trading.PositionSize, c.Trading.PortfolioValue)
	}
	if c.Risk.MaxSymbolExposurePct > c.Risk.MaxTotalExposurePct {
		return fmt.Errorf("risk.max_symbol_exposure_pct cannot exceed risk.max_total_exposure_pct")
	}
	return nil
}
