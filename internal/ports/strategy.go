package ports

import (
	"context"

	"vwapbot/internal/domain"
)

// EntryInput is everything a strategy sees when deciding on an entry.
//
// Positions are already filtered to Symbol by the caller; each strategy
// filters them further by its own tag.
type EntryInput struct {
	Symbol    string
	State     domain.MarketState
	Recent    domain.BarWindow // trailing bars ending at the analysed bar
	Positions []*domain.Position
}

// Strategy decides entries for one strategy identity.
type Strategy interface {
	// Name is the registry key (e.g., "vwap_bounce").
	Name() string
	// Tag is the identity stamped on positions the strategy opens.
	Tag() string
	CheckForEntry(ctx context.Context, in EntryInput) domain.Signal
}
