package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"vwapbot/internal/adapters/logger"
	"vwapbot/internal/analysis"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/strategy/backtesting"
	"vwapbot/internal/strategy/strategies"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey            string
	SecretKey         string
	IsTestnet         bool
	RequestsPerMinute int
	SymbolMap         map[string]string // bot symbol -> venue symbol, e.g. BTCUSD=BTCUSDT

	// Market data
	Symbols   []string
	Timeframe string // Binance interval, e.g. "15m"
	BarCount  int    // bars fetched per cycle

	// Orders
	Volume       float64 // base asset quantity per entry
	ContractSize float64 // money per unit of price move per unit of volume
	ProfitUnit   string  // "price" or "money"
	MagicBase    int     // strategy tags are MagicBase + offset

	// Ledger thresholds, in ProfitUnit
	TakeProfit         float64
	StopLoss           float64 // negative
	TrailingActivation float64 // 0 disables trailing
	TrailingStep       float64
	BreakEven          float64

	// Analysis
	SlopeLookback int // bars between compared VWAP points
	SRLookback    int // bars scanned for support/resistance
	ATRPeriod     int
	ZPeriod       int

	// Loop
	LoopInterval   time.Duration
	Convention     backtesting.Convention
	OneTradePerBar bool
	Strategies     []string // evaluation order

	// Persistence
	TradeLogPath string
	DBPath       string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat logger.Format
}

// LoadConfig loads configuration from the environment (.env is loaded first
// if present) and, when CONFIG_FILE is set, a YAML file. Environment
// variables win over the file.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading config file %s: %v", ports.ErrConfigurationError, path, err)
		}
	}
	return load(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance_testnet", true)
	v.SetDefault("binance_requests_per_minute", 1200)
	v.SetDefault("symbol_map", "BTCUSD=BTCUSDT,ETHUSD=ETHUSDT")

	v.SetDefault("symbols", "BTCUSD,ETHUSD")
	v.SetDefault("timeframe", "15m")
	v.SetDefault("bar_count", 300)

	v.SetDefault("volume", 0.1)
	v.SetDefault("contract_size", 1.0)
	v.SetDefault("profit_unit", "money")
	v.SetDefault("magic_base", 20240900)

	v.SetDefault("take_profit", 1.0)
	v.SetDefault("stop_loss", -10.0)
	v.SetDefault("trailing_activation", 1.0)
	v.SetDefault("trailing_step", 0.2)
	v.SetDefault("break_even", 0.5)

	v.SetDefault("slope_lookback", 10)
	v.SetDefault("sr_lookback", 20)
	v.SetDefault("atr_period", 14)
	v.SetDefault("z_period", 200)

	v.SetDefault("loop_interval_seconds", 5)
	v.SetDefault("convention", string(backtesting.PriorBar))
	v.SetDefault("one_trade_per_bar", true)
	v.SetDefault("strategies", strings.Join(strategies.Names(), ","))

	v.SetDefault("trade_log_path", "./data/trade_log.csv")
	v.SetDefault("db_path", "./data/vwapbot.db")

	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", string(logger.FormatConsole))
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = v.GetString("binance_api_key")
	cfg.SecretKey = v.GetString("binance_api_secret")
	if cfg.IsTestnet, err = getBool(v, "binance_testnet"); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.RequestsPerMinute, err = getInt(v, "binance_requests_per_minute"); err != nil {
		errs = append(errs, err.Error())
	} else if cfg.RequestsPerMinute <= 0 {
		errs = append(errs, "BINANCE_REQUESTS_PER_MINUTE must be positive")
	}
	if cfg.SymbolMap, err = parseSymbolMap(getList(v, "symbol_map")); err != nil {
		errs = append(errs, err.Error())
	}

	// Market data
	cfg.Symbols = getList(v, "symbols")
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.Timeframe = strings.TrimSpace(v.GetString("timeframe"))
	if cfg.Timeframe == "" {
		errs = append(errs, "TIMEFRAME must be set")
	}
	if cfg.BarCount, err = getInt(v, "bar_count"); err != nil {
		errs = append(errs, err.Error())
	} else if cfg.BarCount <= 0 {
		errs = append(errs, "BAR_COUNT must be positive")
	}

	// Orders
	if cfg.Volume, err = getFloat(v, "volume"); err != nil {
		errs = append(errs, err.Error())
	} else if cfg.Volume <= 0 {
		errs = append(errs, "VOLUME must be positive")
	}
	if cfg.ContractSize, err = getFloat(v, "contract_size"); err != nil {
		errs = append(errs, err.Error())
	} else if cfg.ContractSize <= 0 {
		errs = append(errs, "CONTRACT_SIZE must be positive")
	}
	cfg.ProfitUnit = strings.ToLower(strings.TrimSpace(v.GetString("profit_unit")))
	if _, err := risk.ParseProfitModel(cfg.ProfitUnit, cfg.ContractSize); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.MagicBase, err = getInt(v, "magic_base"); err != nil {
		errs = append(errs, err.Error())
	}

	// Ledger thresholds
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"take_profit", &cfg.TakeProfit},
		{"stop_loss", &cfg.StopLoss},
		{"trailing_activation", &cfg.TrailingActivation},
		{"trailing_step", &cfg.TrailingStep},
		{"break_even", &cfg.BreakEven},
	} {
		if *f.dst, err = getFloat(v, f.key); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := cfg.Thresholds().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	// Analysis
	for _, f := range []struct {
		key string
		dst *int
		min int
	}{
		{"slope_lookback", &cfg.SlopeLookback, 1},
		{"sr_lookback", &cfg.SRLookback, 1},
		{"atr_period", &cfg.ATRPeriod, 1},
		{"z_period", &cfg.ZPeriod, 2},
	} {
		if *f.dst, err = getInt(v, f.key); err != nil {
			errs = append(errs, err.Error())
		} else if *f.dst < f.min {
			errs = append(errs, fmt.Sprintf("%s must be at least %d", strings.ToUpper(f.key), f.min))
		}
	}

	// Loop
	loopSeconds, err := getFloat(v, "loop_interval_seconds")
	if err != nil {
		errs = append(errs, err.Error())
	} else if loopSeconds <= 0 {
		errs = append(errs, "LOOP_INTERVAL_SECONDS must be positive")
	}
	cfg.LoopInterval = time.Duration(loopSeconds * float64(time.Second))
	if cfg.Convention, err = backtesting.ParseConvention(v.GetString("convention")); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.OneTradePerBar, err = getBool(v, "one_trade_per_bar"); err != nil {
		errs = append(errs, err.Error())
	}
	cfg.Strategies = getList(v, "strategies")
	if _, err := strategies.Build(cfg.Strategies, cfg.MagicBase, logger.NewNop()); err != nil {
		errs = append(errs, err.Error())
	}

	// Persistence
	cfg.TradeLogPath = v.GetString("trade_log_path")
	cfg.DBPath = v.GetString("db_path")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(v.GetString("log_level"))
	switch f := logger.Format(strings.ToLower(v.GetString("log_format"))); f {
	case logger.FormatConsole, logger.FormatJSON:
		cfg.LogFormat = f
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be %q or %q", logger.FormatConsole, logger.FormatJSON))
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return cfg, nil
}

// RequireCredentials reports whether the API keys needed for live trading are set.
func (c *Config) RequireCredentials() error {
	var errs []string
	if c.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if c.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return nil
}

// Thresholds returns the ledger thresholds.
func (c *Config) Thresholds() risk.Thresholds {
	return risk.Thresholds{
		TakeProfit:         c.TakeProfit,
		StopLoss:           c.StopLoss,
		TrailingActivation: c.TrailingActivation,
		TrailingStep:       c.TrailingStep,
		BreakEven:          c.BreakEven,
	}
}

// ProfitModel returns the model matching ProfitUnit.
func (c *Config) ProfitModel() risk.ProfitModel {
	m, err := risk.ParseProfitModel(c.ProfitUnit, c.ContractSize)
	if err != nil {
		// validated in load
		return risk.PriceDistance{}
	}
	return m
}

// Analysis returns the analyzer parameters.
func (c *Config) Analysis() analysis.Config {
	return analysis.Config{
		Timeframe:     c.Timeframe,
		BarCount:      c.BarCount,
		SlopeLookback: c.SlopeLookback,
		SRLookback:    c.SRLookback,
		ATRPeriod:     c.ATRPeriod,
		ZPeriod:       c.ZPeriod,
	}
}

// --- Value Helpers ---

func envName(key string) string {
	return strings.ToUpper(key)
}

func getInt(v *viper.Viper, key string) (int, error) {
	s := strings.TrimSpace(v.GetString(key))
	value, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s", s, envName(key))
	}
	return value, nil
}

func getFloat(v *viper.Viper, key string) (float64, error) {
	s := strings.TrimSpace(v.GetString(key))
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s", s, envName(key))
	}
	return value, nil
}

func getBool(v *viper.Viper, key string) (bool, error) {
	s := strings.TrimSpace(v.GetString(key))
	value, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean value '%s' for key %s", s, envName(key))
	}
	return value, nil
}

// getList accepts a comma separated string (environment) or a YAML sequence.
func getList(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case []interface{}:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	case []string:
		raw = val
	default:
		raw = strings.Split(v.GetString(key), ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseSymbolMap(pairs []string) (map[string]string, error) {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		from, to, ok := strings.Cut(p, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid SYMBOL_MAP entry %q, want BOT=VENUE", p)
		}
		m[strings.ToUpper(from)] = strings.ToUpper(to)
	}
	return m, nil
}
