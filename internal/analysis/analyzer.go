// Package analysis turns a bar window into a VWAP-centric market state.
package analysis

import (
	"context"
	"math"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
	"vwapbot/internal/strategy/indicators"
)

// Config holds analysis parameters. Lookbacks are bar counts.
type Config struct {
	Timeframe     string
	BarCount      int // bars requested from the source
	SlopeLookback int // VWAP slope distance, default 10
	SRLookback    int // support/resistance lookback, default 20
	ATRPeriod     int // default 14
	ZPeriod       int // ATR z-score reference length, default 200
}

// DefaultConfig returns the standard analysis parameters.
func DefaultConfig() Config {
	return Config{
		Timeframe:     "5m",
		BarCount:      300,
		SlopeLookback: 10,
		SRLookback:    20,
		ATRPeriod:     14,
		ZPeriod:       200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BarCount < 1 {
		c.BarCount = d.BarCount
	}
	if c.SlopeLookback < 1 {
		c.SlopeLookback = d.SlopeLookback
	}
	if c.SRLookback < 1 {
		c.SRLookback = d.SRLookback
	}
	if c.ATRPeriod < 1 {
		c.ATRPeriod = d.ATRPeriod
	}
	if c.ZPeriod < 2 {
		c.ZPeriod = d.ZPeriod
	}
	return c
}

// Analyzer computes market states. It holds no per-symbol state and is safe
// for concurrent use.
type Analyzer struct {
	cfg    Config
	logger ports.Logger
}

// NewAnalyzer creates an analyzer. Zero-valued parameters fall back to defaults.
func NewAnalyzer(cfg Config, logger ports.Logger) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze pulls a window from src and classifies it. It never fails: missing
// data or a transport fault produces a state with Trend ERROR and
// Confirmation NEUTRAL.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, src ports.BarSource) domain.MarketState {
	op := "Analyze"
	bars, err := src.GetBars(ctx, symbol, a.cfg.Timeframe, a.cfg.BarCount)
	if err != nil {
		a.logger.Warn(ctx, op+": bar source failed, degrading to neutral", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		bars = nil
	}
	return a.AnalyzeWindow(ctx, symbol, bars)
}

// AnalyzeWindow classifies an already fetched window.
func (a *Analyzer) AnalyzeWindow(ctx context.Context, symbol string, window domain.BarWindow) domain.MarketState {
	op := "AnalyzeWindow"
	state := domain.MarketState{
		Symbol:       symbol,
		Timeframe:    a.cfg.Timeframe,
		Trend:        domain.TrendError,
		Bias:         domain.BiasNeutral,
		Confirmation: domain.ConfirmNeutral,
	}

	last, ok := window.Last()
	if !ok {
		a.logger.Debug(ctx, op+": empty window", map[string]interface{}{"symbol": symbol, "reason": ports.ErrDataUnavailable.Error()})
		return state
	}
	state.CurrentPrice = last.Close
	state.HasPrice = true

	vwap, err := indicators.VWAP(window)
	if err != nil {
		a.logger.Debug(ctx, op+": vwap unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return state
	}
	state.VWAP = vwap[len(vwap)-1]
	state.HasVWAP = true

	state.Trend = SlopeTrend(vwap, a.cfg.SlopeLookback)
	state.Bias = PriceBias(state.CurrentPrice, state.VWAP)

	levels := indicators.SupportResistance(window, a.cfg.SRLookback)
	state.Support = levels.Support
	state.Resistance = levels.Resistance

	state.Confirmation = Classify(state.Trend, state.Bias, state.CurrentPrice, state.Support, state.Resistance)
	state.Structure = a.structure(window)

	a.logger.Debug(ctx, op+" complete", map[string]interface{}{
		"symbol":       symbol,
		"price":        state.CurrentPrice,
		"vwap":         state.VWAP,
		"trend":        state.Trend,
		"bias":         state.Bias,
		"confirmation": state.Confirmation,
	})
	return state
}

func (a *Analyzer) structure(window domain.BarWindow) domain.Structure {
	var s domain.Structure
	if bands, err := indicators.VWAPBands(window); err == nil {
		s.Upper1, s.Upper2 = bands.Upper1, bands.Upper2
		s.Lower1, s.Lower2 = bands.Lower1, bands.Lower2
	}
	if atr, err := indicators.ATR(window, a.cfg.ATRPeriod); err == nil {
		s.ATR = atr[len(atr)-1]
	}
	s.ATRZScore = indicators.ATRZScore(window, a.cfg.ATRPeriod, a.cfg.ZPeriod)
	return s
}

// SlopeTrend compares the last VWAP value with the one lookback points
// earlier. Fewer than lookback+1 values, an undefined value at either end,
// or no change is CONSOLIDATION.
func SlopeTrend(vwap []float64, lookback int) domain.Trend {
	if lookback < 1 || len(vwap) < lookback+1 {
		return domain.TrendConsolidation
	}
	last := len(vwap) - 1
	if math.IsNaN(vwap[last]) || math.IsNaN(vwap[last-lookback]) {
		return domain.TrendConsolidation
	}
	switch delta := vwap[last] - vwap[last-lookback]; {
	case delta > 0:
		return domain.TrendUp
	case delta < 0:
		return domain.TrendDown
	default:
		return domain.TrendConsolidation
	}
}

// PriceBias places price relative to VWAP.
func PriceBias(price, vwap float64) domain.Bias {
	switch {
	case price > vwap:
		return domain.BiasBullish
	case price < vwap:
		return domain.BiasBearish
	default:
		return domain.BiasNeutral
	}
}

// Classify derives the confirmation from trend, bias and the price's
// position against support and resistance. It is a pure function.
func Classify(trend domain.Trend, bias domain.Bias, price, support, resistance float64) domain.Confirmation {
	switch {
	case trend == domain.TrendError:
		return domain.ConfirmNeutral
	case trend == domain.TrendUp && bias == domain.BiasBullish:
		return domain.ConfirmStrongBuy
	case trend == domain.TrendDown && bias == domain.BiasBearish:
		return domain.ConfirmStrongSell
	case trend == domain.TrendConsolidation && (price < support || price > resistance):
		return domain.ConfirmNeutral
	case bias == domain.BiasBullish:
		return domain.ConfirmWeakBuy
	case bias == domain.BiasBearish:
		return domain.ConfirmWeakSell
	default:
		return domain.ConfirmNeutral
	}
}
