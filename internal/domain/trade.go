package domain

import "time"

// TradeRecord is the immutable result of a closed position.
type TradeRecord struct {
	PositionID  int64
	Symbol      string
	Side        Side
	StrategyTag string
	Volume      float64
	EntryPrice  float64
	ExitPrice   float64
	EntryTime   time.Time
	CloseTime   time.Time
	Profit      float64 // In the ledger's profit unit
	Outcome     Outcome
	Reason      CloseReason
}

// TradeAction is the kind of event written to the trade log.
type TradeAction string

const (
	ActionPlace TradeAction = "PLACE"
	ActionClose TradeAction = "CLOSE"
)

// TradeStatus is the result recorded for a trade log event.
type TradeStatus string

const (
	StatusSuccess   TradeStatus = "SUCCESS"
	StatusFailure   TradeStatus = "FAILURE"
	StatusClosed    TradeStatus = "CLOSED"
	StatusCloseFail TradeStatus = "CLOSE_FAIL"
)

// TradeEvent is one row of the append-only trade log.
type TradeEvent struct {
	Timestamp time.Time
	Action    TradeAction
	Ticket    int64
	Symbol    string
	Side      Side
	Volume    float64
	Price     float64
	SL        float64
	TP        float64
	Comment   string
	Status    TradeStatus
	Details   string
}
