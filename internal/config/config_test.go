package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols: [BTCUSDT, ETHUSDT]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bybit", cfg.Exchange.Name)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 60000, cfg.Trading.DecisionIntervalMs)
	assert.Equal(t, 5000, cfg.Trading.MonitorIntervalMs)
	assert.InDelta(t, 25.0, cfg.Risk.MaxSymbolExposurePct, 1e-9)
	assert.InDelta(t, 75.0, cfg.Risk.MaxTotalExposurePct, 1e-9)
	assert.Equal(t, 3, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, "multi-indicator", cfg.Selector.DefaultStrategy)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "engine.db", cfg.Storage.Path)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols: [SOLUSDT]
  position_size: 250
  use_kelly_sizing: true
risk:
  max_consecutive_losses: 5
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 250.0, cfg.Trading.PositionSize, 1e-9)
	assert.True(t, cfg.Trading.UseKellySizing)
	assert.Equal(t, 5, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("BYBIT_API_SECRET", "env-secret")

	path := writeConfig(t, `
exchange:
  api_key: file-key
trading:
  symbols: [BTCUSDT]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.APISecret)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	_, err := Load(writeConfig(t, `trading: {}`))
	assert.Error(t, err, "no symbols")

	_, err = Load(writeConfig(t, `
trading:
  symbols: [BTCUSDT]
  position_size: 20000
  portfolio_value: 10000
`))
	assert.Error(t, err, "size above portfolio")

	_, err = Load(writeConfig(t, `
trading:
  symbols: [BTCUSDT]
risk:
  max_symbol_exposure_pct: 80
  max_total_exposure_pct: 75
`))
	assert.Error(t, err, "symbol cap above total cap")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
