package strategies

import (
	"context"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// VWAPTouch is the touch-and-close continuation variant: in an uptrend the
// current bar trades down to VWAP and closes above it; in a downtrend it
// trades up to VWAP and closes below it.
type VWAPTouch struct {
	BaseStrategy
}

// NewVWAPTouch creates the touch-and-close strategy with the given position tag.
func NewVWAPTouch(tag string, logger ports.Logger) *VWAPTouch {
	return &VWAPTouch{BaseStrategy: NewBaseStrategy(NameVWAPTouch, tag, "VWAP_TOUCH", logger)}
}

// CheckForEntry implements ports.Strategy.
func (s *VWAPTouch) CheckForEntry(ctx context.Context, in ports.EntryInput) domain.Signal {
	if s.hasOpenPosition(in.Symbol, in.Positions) {
		return domain.SignalNone
	}
	state := in.State
	if !state.HasVWAP || !state.HasPrice {
		return domain.SignalNone
	}
	bar, ok := in.Recent.Last()
	if !ok {
		return domain.SignalNone
	}

	vwap := state.VWAP
	switch {
	case state.Trend == domain.TrendUp && bar.Low <= vwap && bar.Close > vwap:
		return domain.SignalBuy
	case state.Trend == domain.TrendDown && bar.High >= vwap && bar.Close < vwap:
		return domain.SignalSell
	default:
		return domain.SignalNone
	}
}

var _ ports.Strategy = (*VWAPTouch)(nil)
