package domain

// Trend is the direction of the VWAP slope.
type Trend string

const (
	TrendUp            Trend = "UPTREND"
	TrendDown          Trend = "DOWNTREND"
	TrendConsolidation Trend = "CONSOLIDATION"
	TrendError         Trend = "ERROR"
)

// Bias is the position of price relative to VWAP.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// Confirmation combines trend and bias into an entry hint.
type Confirmation string

const (
	ConfirmStrongBuy  Confirmation = "STRONG_BUY"
	ConfirmWeakBuy    Confirmation = "WEAK_BUY"
	ConfirmStrongSell Confirmation = "STRONG_SELL"
	ConfirmWeakSell   Confirmation = "WEAK_SELL"
	ConfirmNeutral    Confirmation = "NEUTRAL"
	ConfirmError      Confirmation = "ERROR"
)

// Bullish reports whether the confirmation favours a long entry.
func (c Confirmation) Bullish() bool {
	return c == ConfirmStrongBuy || c == ConfirmWeakBuy
}

// Bearish reports whether the confirmation favours a short entry.
func (c Confirmation) Bearish() bool {
	return c == ConfirmStrongSell || c == ConfirmWeakSell
}

// MarketState is a snapshot of one symbol at one bar. It is built fresh
// for every evaluation and never modified afterwards.
type MarketState struct {
	Symbol       string
	Timeframe    string
	CurrentPrice float64
	HasPrice     bool
	VWAP         float64
	HasVWAP      bool // false when VWAP could not be computed
	Trend        Trend
	Bias         Bias
	Support      float64
	Resistance   float64
	Confirmation Confirmation

	// Structure is informational and not used for entry decisions.
	Structure Structure
}

// Structure carries the volatility snapshot that accompanies a market state.
type Structure struct {
	Upper1, Upper2 float64 // VWAP + 1σ, + 2σ
	Lower1, Lower2 float64 // VWAP - 1σ, - 2σ
	ATR            float64
	ATRZScore      float64
}
