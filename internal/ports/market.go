package ports

import (
	"context"
	"time"

	"vwapbot/internal/domain"
)

// BarSource supplies ordered bars for a symbol.
//
// GetBars may return fewer than count bars and returns an empty slice when
// there is no data. An error is reserved for transport-level faults.
type BarSource interface {
	GetBars(ctx context.Context, symbol, timeframe string, count int) ([]domain.Bar, error)
}

// OrderRequest describes a market order opening a new position.
type OrderRequest struct {
	Symbol      string
	Side        domain.Side
	Volume      float64
	Price       float64   // Reference price (bar close in replay)
	Time        time.Time // Reference time (bar time in replay)
	SL          float64   // Informational, carried to the trade log
	TP          float64
	Comment     string
	StrategyTag string
}

// Fill is the gateway's confirmation of an executed order.
type Fill struct {
	Ticket int64
	Price  float64
	Time   time.Time
}

// PositionCloser closes an open position at the venue.
type PositionCloser interface {
	ClosePosition(ctx context.Context, pos *domain.Position, reason domain.CloseReason, price float64) (*Fill, error)
}

// OrderGateway submits orders and closes positions. Calls block until the
// venue answers; no retry is performed by callers.
type OrderGateway interface {
	PositionCloser
	PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error)
}

// TradeLog is an append-only audit sink. Callers log a failed Record and carry on.
type TradeLog interface {
	Record(ctx context.Context, event domain.TradeEvent) error
}
