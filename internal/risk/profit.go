package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// ProfitModel converts a price into the profit unit a ledger's thresholds
// are expressed in. One ledger uses one model for its whole life.
type ProfitModel interface {
	Name() string
	// Profit returns the unrealised profit of pos at price.
	Profit(pos *domain.Position, price float64) decimal.Decimal
	// PriceAt returns the price at which pos shows the given profit.
	PriceAt(pos *domain.Position, profit decimal.Decimal) float64
}

// PriceDistance measures profit as signed price distance from entry.
// Used for replay, where thresholds are price offsets.
type PriceDistance struct{}

func (PriceDistance) Name() string { return "price" }

func (PriceDistance) Profit(pos *domain.Position, price float64) decimal.Decimal {
	return signedMove(pos, price)
}

func (PriceDistance) PriceAt(pos *domain.Position, profit decimal.Decimal) float64 {
	return levelPrice(pos, profit)
}

// Money measures profit in account currency: price distance × volume ×
// contract size. Used live, where thresholds are amounts of money.
type Money struct {
	ContractSize float64
}

func (Money) Name() string { return "money" }

func (m Money) Profit(pos *domain.Position, price float64) decimal.Decimal {
	return signedMove(pos, price).Mul(m.multiplier(pos))
}

func (m Money) PriceAt(pos *domain.Position, profit decimal.Decimal) float64 {
	mult := m.multiplier(pos)
	if mult.IsZero() {
		return pos.EntryPrice
	}
	return levelPrice(pos, profit.Div(mult))
}

func (m Money) multiplier(pos *domain.Position) decimal.Decimal {
	cs := m.ContractSize
	if cs <= 0 {
		cs = 1
	}
	return decimal.NewFromFloat(pos.Volume).Mul(decimal.NewFromFloat(cs))
}

func signedMove(pos *domain.Position, price float64) decimal.Decimal {
	move := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(pos.EntryPrice))
	if pos.Side == domain.Short {
		return move.Neg()
	}
	return move
}

func levelPrice(pos *domain.Position, distance decimal.Decimal) float64 {
	if pos.Side == domain.Short {
		distance = distance.Neg()
	}
	return decimal.NewFromFloat(pos.EntryPrice).Add(distance).InexactFloat64()
}

// ParseProfitModel maps a configured unit name to a model.
func ParseProfitModel(unit string, contractSize float64) (ProfitModel, error) {
	switch strings.ToLower(unit) {
	case "", "price":
		return PriceDistance{}, nil
	case "money":
		return Money{ContractSize: contractSize}, nil
	default:
		return nil, fmt.Errorf("%w: unknown profit unit %q", ports.ErrConfigurationError, unit)
	}
}
