package strategies

import (
	"context"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// VWAPBounce enters on a close crossing back over VWAP in the direction of
// a confirmed trend: the previous bar closed on one side of VWAP and the
// current bar closed on the other.
type VWAPBounce struct {
	BaseStrategy
}

// bounceMinBars is the number of trailing bars the bounce check needs.
const bounceMinBars = 3

// NewVWAPBounce creates the bounce strategy with the given position tag.
func NewVWAPBounce(tag string, logger ports.Logger) *VWAPBounce {
	return &VWAPBounce{BaseStrategy: NewBaseStrategy(NameVWAPBounce, tag, "VWAP_BOUNCE", logger)}
}

// CheckForEntry implements ports.Strategy.
func (s *VWAPBounce) CheckForEntry(ctx context.Context, in ports.EntryInput) domain.Signal {
	if s.hasOpenPosition(in.Symbol, in.Positions) {
		return domain.SignalNone
	}
	state := in.State
	if !state.HasVWAP || !state.HasPrice {
		return domain.SignalNone
	}
	buyAllowed := state.Confirmation.Bullish()
	sellAllowed := state.Confirmation.Bearish()
	if !buyAllowed && !sellAllowed {
		return domain.SignalNone
	}
	if len(in.Recent) < bounceMinBars {
		s.logger.Debug(ctx, "VWAPBounce: not enough bars", map[string]interface{}{"symbol": in.Symbol, "bars": len(in.Recent)})
		return domain.SignalNone
	}

	vwap := state.VWAP
	prevClose := in.Recent[len(in.Recent)-2].Close
	currClose := in.Recent[len(in.Recent)-1].Close

	switch {
	case buyAllowed && state.Trend == domain.TrendUp && prevClose < vwap && currClose > vwap:
		return domain.SignalBuy
	case sellAllowed && state.Trend == domain.TrendDown && prevClose > vwap && currClose < vwap:
		return domain.SignalSell
	default:
		return domain.SignalNone
	}
}

var _ ports.Strategy = (*VWAPBounce)(nil)
