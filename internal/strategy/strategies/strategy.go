// Package strategies holds the entry strategy variants and the registry
// that assembles them at startup.
package strategies

import (
	"fmt"
	"strings"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// BaseStrategy provides the identity and position guard shared by strategies.
type BaseStrategy struct {
	name          string
	tag           string
	commentPrefix string
	logger        ports.Logger
}

// NewBaseStrategy creates a new base strategy instance.
func NewBaseStrategy(name, tag, commentPrefix string, logger ports.Logger) BaseStrategy {
	return BaseStrategy{name: name, tag: tag, commentPrefix: commentPrefix, logger: logger}
}

func (b BaseStrategy) Name() string { return b.name }
func (b BaseStrategy) Tag() string  { return b.tag }

// Comment returns the order comment for an entry signal, e.g. VWAP_BOUNCE_BUY.
func (b BaseStrategy) Comment(sig domain.Signal) string {
	return fmt.Sprintf("%s_%s", b.commentPrefix, sig)
}

// hasOpenPosition reports whether positions already hold an open position
// for this strategy on symbol.
func (b BaseStrategy) hasOpenPosition(symbol string, positions []*domain.Position) bool {
	for _, p := range positions {
		if p.IsOpen() && p.StrategyTag == b.tag && p.Symbol == symbol {
			return true
		}
	}
	return false
}

// EntryComment returns the order comment a strategy attaches to an entry.
func EntryComment(s ports.Strategy, sig domain.Signal) string {
	if c, ok := s.(interface{ Comment(domain.Signal) string }); ok {
		return c.Comment(sig)
	}
	return strings.ToUpper(s.Name()) + "_" + string(sig)
}
