package ports

import (
	"context"

	"vwapbot/internal/domain"
)

// RunRepository stores backtest and live session metadata.
type RunRepository interface {
	// CreateRun saves a new run. The run ID is assigned by the caller.
	CreateRun(ctx context.Context, run *domain.Run) error
	// FinishRun stores the terminal summary of a run.
	FinishRun(ctx context.Context, run *domain.Run) error
	// FindRun returns nil, nil when the run does not exist.
	FindRun(ctx context.Context, id string) (*domain.Run, error)
}

// TradeRecordRepository stores closed trade records.
type TradeRecordRepository interface {
	SaveRecord(ctx context.Context, runID string, rec domain.TradeRecord) (int64, error)
	FindByRun(ctx context.Context, runID string) ([]domain.TradeRecord, error)
	// FindBySymbol retrieves the most recent records for a symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error)
}

// PositionRepository persists the open position set of a live session so it
// survives restarts.
type PositionRepository interface {
	SaveOpen(ctx context.Context, pos *domain.Position) error
	MarkClosed(ctx context.Context, pos *domain.Position) error
	FindOpen(ctx context.Context) ([]*domain.Position, error)
}
