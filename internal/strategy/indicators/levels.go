package indicators

import (
	"github.com/markcheno/go-talib"

	"vwapbot/internal/domain"
)

// Levels holds the support and resistance of a window.
type Levels struct {
	Support    float64
	Resistance float64
}

// SupportResistance returns min(low) and max(high) over the last lookback
// bars. A window shorter than lookback is used whole; an empty window
// yields {0, 0}.
func SupportResistance(window domain.BarWindow, lookback int) Levels {
	if len(window) == 0 {
		return Levels{}
	}
	if lookback < 1 || lookback > len(window) {
		lookback = len(window)
	}
	if lookback == 1 {
		b := window[len(window)-1]
		return Levels{Support: b.Low, Resistance: b.High}
	}

	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	for i, b := range window {
		highs[i] = b.High
		lows[i] = b.Low
	}
	maxHigh := talib.Max(highs, lookback)
	minLow := talib.Min(lows, lookback)
	return Levels{
		Support:    minLow[len(minLow)-1],
		Resistance: maxHigh[len(maxHigh)-1],
	}
}
