package domain

import "time"

// Position is an open (or historical) trade owned by the position ledger.
type Position struct {
	ID          int64  // Ticket assigned by the order gateway
	Symbol      string // Trading symbol (e.g., "BTCUSD")
	Side        Side
	Volume      float64
	EntryPrice  float64
	EntryTime   time.Time
	StrategyTag string // Magic number / owner strategy identity
	Comment     string

	State     PositionState
	ExitPrice float64   // 0 while open
	ExitTime  time.Time // zero while open
}

// IsOpen checks if the position is still open.
func (p *Position) IsOpen() bool {
	return p.State == StateOpen
}

// Direction returns +1 for long and -1 for short positions.
func (p *Position) Direction() float64 {
	if p.Side == Short {
		return -1
	}
	return 1
}
