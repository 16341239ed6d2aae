package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwapbot/internal/adapters/logger"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/strategy/backtesting"
)

func newViper(overrides map[string]interface{}) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, cfg.Symbols)
	assert.Equal(t, map[string]string{"BTCUSD": "BTCUSDT", "ETHUSD": "ETHUSDT"}, cfg.SymbolMap)
	assert.Equal(t, "15m", cfg.Timeframe)
	assert.Equal(t, 300, cfg.BarCount)
	assert.Equal(t, 0.1, cfg.Volume)
	assert.Equal(t, 20240900, cfg.MagicBase)
	assert.Equal(t, risk.Thresholds{
		TakeProfit: 1, StopLoss: -10, TrailingActivation: 1, TrailingStep: 0.2, BreakEven: 0.5,
	}, cfg.Thresholds())
	assert.Equal(t, risk.Money{ContractSize: 1}, cfg.ProfitModel())
	assert.Equal(t, 5*time.Second, cfg.LoopInterval)
	assert.Equal(t, backtesting.PriorBar, cfg.Convention)
	assert.True(t, cfg.OneTradePerBar)
	assert.Equal(t, []string{"vwap_bounce", "vwap_touch"}, cfg.Strategies)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, logger.FormatConsole, cfg.LogFormat)
	assert.True(t, cfg.IsTestnet)

	a := cfg.Analysis()
	assert.Equal(t, 10, a.SlopeLookback)
	assert.Equal(t, 200, a.ZPeriod)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(newViper(map[string]interface{}{
		"symbols":               " ethusd , ,BTCUSD",
		"profit_unit":           "PRICE",
		"convention":            "same_bar",
		"loop_interval_seconds": "0.5",
		"strategies":            []interface{}{"vwap_touch"},
		"log_format":            "JSON",
		"log_level":             "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"ethusd", "BTCUSD"}, cfg.Symbols)
	assert.Equal(t, risk.PriceDistance{}, cfg.ProfitModel())
	assert.Equal(t, backtesting.SameBar, cfg.Convention)
	assert.Equal(t, 500*time.Millisecond, cfg.LoopInterval)
	assert.Equal(t, []string{"vwap_touch"}, cfg.Strategies)
	assert.Equal(t, logger.FormatJSON, cfg.LogFormat)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]interface{}
		wantMsg   string
	}{
		{"empty symbols", map[string]interface{}{"symbols": " , "}, "SYMBOLS must list"},
		{"bad volume", map[string]interface{}{"volume": "lots"}, "invalid float value 'lots' for key VOLUME"},
		{"zero volume", map[string]interface{}{"volume": 0}, "VOLUME must be positive"},
		{"positive stop loss", map[string]interface{}{"stop_loss": 1}, "stop loss must be negative"},
		{"unknown unit", map[string]interface{}{"profit_unit": "pips"}, "unknown profit unit"},
		{"unknown strategy", map[string]interface{}{"strategies": "ma_crossover"}, "unknown strategy"},
		{"zero period", map[string]interface{}{"atr_period": 0}, "ATR_PERIOD must be at least 1"},
		{"z period below two", map[string]interface{}{"z_period": 1}, "Z_PERIOD must be at least 2"},
		{"bad convention", map[string]interface{}{"convention": "next_bar"}, "next_bar"},
		{"bad symbol map", map[string]interface{}{"symbol_map": "BTCUSD"}, "invalid SYMBOL_MAP entry"},
		{"bad log format", map[string]interface{}{"log_format": "xml"}, "LOG_FORMAT"},
		{"bad bool", map[string]interface{}{"one_trade_per_bar": "maybe"}, "ONE_TRADE_PER_BAR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(newViper(tt.overrides))
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	_, err := load(newViper(map[string]interface{}{"volume": -1, "bar_count": 0}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VOLUME must be positive")
	assert.Contains(t, err.Error(), "BAR_COUNT must be positive")
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vwapbot.yaml")
	yaml := "symbols:\n  - XAUUSD\n  - BTCUSD\ntimeframe: 5m\ntake_profit: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TAKE_PROFIT", "4.5")
	t.Setenv("BINANCE_API_KEY", "key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"XAUUSD", "BTCUSD"}, cfg.Symbols)
	assert.Equal(t, "5m", cfg.Timeframe)
	assert.Equal(t, 4.5, cfg.TakeProfit)
	assert.Equal(t, "key", cfg.APIKey)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadConfig()
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestRequireCredentials(t *testing.T) {
	cfg := &Config{APIKey: "k"}
	err := cfg.RequireCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
	assert.NotContains(t, err.Error(), "BINANCE_API_KEY")

	cfg.SecretKey = "s"
	assert.NoError(t, cfg.RequireCredentials())
}
