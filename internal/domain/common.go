package domain

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// OrderSide returns the exchange side used to open a position in this direction.
func (s Side) OrderSide() string {
	if s == Short {
		return "SELL"
	}
	return "BUY"
}

// Signal is a strategy entry decision.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalNone Signal = "NONE"
)

// Side maps an entry signal to a position side. ok is false for SignalNone.
func (s Signal) Side() (side Side, ok bool) {
	switch s {
	case SignalBuy:
		return Long, true
	case SignalSell:
		return Short, true
	default:
		return "", false
	}
}

// PositionState is the lifecycle state of a position.
type PositionState string

const (
	StateOpen         PositionState = "OPEN"
	StateClosedTP     PositionState = "CLOSED_TP"
	StateClosedSL     PositionState = "CLOSED_SL"
	StateClosedTrail  PositionState = "CLOSED_TRAIL"
	StateClosedManual PositionState = "CLOSED_MANUAL"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonTakeProfit CloseReason = "TP Hit"
	CloseReasonStopLoss   CloseReason = "SL Hit"
	CloseReasonTrailing   CloseReason = "Trailing Stop"
	CloseReasonManual     CloseReason = "Manual"
)

// State returns the terminal position state for a close reason.
func (r CloseReason) State() PositionState {
	switch r {
	case CloseReasonTakeProfit:
		return StateClosedTP
	case CloseReasonStopLoss:
		return StateClosedSL
	case CloseReasonTrailing:
		return StateClosedTrail
	default:
		return StateClosedManual
	}
}

// Outcome classifies a closed trade.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)
