package domain

import "time"

// RunMode tells a replay run from a live session.
type RunMode string

const (
	ModeBacktest RunMode = "backtest"
	ModeLive     RunMode = "live"
)

// Summary aggregates the outcomes of a run.
type Summary struct {
	TotalClosed            int
	SuccessCount           int
	FailureCount           int
	SuccessRate            float64 // percent, 0 when nothing closed
	OpenPositionsRemaining int
}

// NewSummary builds a summary from closed records and the open position count.
func NewSummary(records []TradeRecord, open int) Summary {
	s := Summary{TotalClosed: len(records), OpenPositionsRemaining: open}
	for _, r := range records {
		if r.Outcome == OutcomeSuccess {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
	}
	if s.TotalClosed > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalClosed) * 100
	}
	return s
}

// Run is the persisted header of a backtest or live session.
type Run struct {
	ID         string
	Mode       RunMode
	Symbols    string // comma separated
	Timeframe  string
	Convention string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Summary    Summary
}
