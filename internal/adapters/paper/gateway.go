// Package paper provides a simulated order gateway that fills every order
// at the requested price.
package paper

import (
	"context"
	"fmt"
	"sync"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// Gateway is an in-memory OrderGateway. Tickets increase monotonically and
// are never reused.
type Gateway struct {
	mu         sync.Mutex
	nextTicket int64
	logger     ports.Logger

	// FailPlace and FailClose, when set, decide whether a call is rejected.
	FailPlace func(req ports.OrderRequest) error
	FailClose func(pos *domain.Position) error
}

// New creates a paper gateway whose first ticket is firstTicket.
func New(firstTicket int64, logger ports.Logger) *Gateway {
	if firstTicket < 1 {
		firstTicket = 1
	}
	return &Gateway{nextTicket: firstTicket, logger: logger}
}

// PlaceOrder fills the order at req.Price and req.Time.
func (g *Gateway) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.Fill, error) {
	op := "PlaceOrder"
	if req.Volume <= 0 || req.Price <= 0 {
		return nil, fmt.Errorf("%s failed: %w: volume %.4f price %.4f", op, ports.ErrInvalidRequest, req.Volume, req.Price)
	}
	if g.FailPlace != nil {
		if err := g.FailPlace(req); err != nil {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOrderPlacementFailed, err)
		}
	}

	g.mu.Lock()
	ticket := g.nextTicket
	g.nextTicket++
	g.mu.Unlock()

	g.logger.Debug(ctx, op+" filled", map[string]interface{}{
		"ticket": ticket, "symbol": req.Symbol, "side": req.Side, "price": req.Price, "comment": req.Comment,
	})
	return &ports.Fill{Ticket: ticket, Price: req.Price, Time: req.Time}, nil
}

// ClosePosition fills the close at price.
func (g *Gateway) ClosePosition(ctx context.Context, pos *domain.Position, reason domain.CloseReason, price float64) (*ports.Fill, error) {
	op := "ClosePosition"
	if g.FailClose != nil {
		if err := g.FailClose(pos); err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
	}
	g.logger.Debug(ctx, op+" filled", map[string]interface{}{"ticket": pos.ID, "reason": reason, "price": price})
	return &ports.Fill{Ticket: pos.ID, Price: price}, nil
}

var _ ports.OrderGateway = (*Gateway)(nil)
