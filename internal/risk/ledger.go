// Package risk holds the position ledger: the open position set, per-position
// peak profit and the take-profit, stop-loss and trailing-stop close rules.
package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// Thresholds are expressed in the unit of the ledger's ProfitModel.
type Thresholds struct {
	TakeProfit         float64 // close when profit >= TakeProfit (> 0)
	StopLoss           float64 // close when profit <= StopLoss (< 0)
	TrailingActivation float64 // trailing arms once peak >= activation; <= 0 disables trailing
	TrailingStep       float64 // distance below peak that triggers the trailing close
	BreakEven          float64 // |profit| within this band is reported only
}

// Validate checks threshold signs.
func (t Thresholds) Validate() error {
	switch {
	case t.TakeProfit <= 0:
		return fmt.Errorf("%w: take profit must be positive", ports.ErrConfigurationError)
	case t.StopLoss >= 0:
		return fmt.Errorf("%w: stop loss must be negative", ports.ErrConfigurationError)
	case t.TrailingActivation > 0 && t.TrailingStep <= 0:
		return fmt.Errorf("%w: trailing step must be positive", ports.ErrConfigurationError)
	case t.BreakEven < 0:
		return fmt.Errorf("%w: break-even threshold cannot be negative", ports.ErrConfigurationError)
	}
	return nil
}

// Quote is the price information a close check runs against. High and Low
// are the bar extremes in replay and are read only when HasRange is set;
// otherwise only Price is used.
type Quote struct {
	Price    float64 // close / last price
	High     float64
	Low      float64
	HasRange bool
	Time     time.Time
}

// BarQuote builds a ranged quote from a completed bar.
func BarQuote(b domain.Bar) Quote {
	return Quote{Price: b.Close, High: b.High, Low: b.Low, HasRange: true, Time: b.Time}
}

// favourable returns the best price of the quote for the position's side.
func (q Quote) favourable(side domain.Side) float64 {
	if !q.HasRange {
		return q.Price
	}
	if side == domain.Short {
		return q.Low
	}
	return q.High
}

// adverse returns the worst price of the quote for the position's side.
func (q Quote) adverse(side domain.Side) float64 {
	if !q.HasRange {
		return q.Price
	}
	if side == domain.Short {
		return q.High
	}
	return q.Low
}

// QuoteFunc returns the current quote for a symbol; ok is false when no
// quote is available, in which case the symbol's positions are skipped.
type QuoteFunc func(symbol string) (q Quote, ok bool)

// Config wires a ledger.
type Config struct {
	Thresholds Thresholds
	Model      ProfitModel
	Closer     ports.PositionCloser // optional; nil closes locally
	TradeLog   ports.TradeLog       // optional
	Logger     ports.Logger
}

// Ledger tracks open positions and closes them by rule. It is not safe for
// concurrent use; callers serialize access.
type Ledger struct {
	th       Thresholds
	model    ProfitModel
	closer   ports.PositionCloser
	tradeLog ports.TradeLog
	logger   ports.Logger

	open    map[int64]*domain.Position
	peaks   map[int64]decimal.Decimal
	tickets map[int64]struct{} // every ticket ever opened
	records []domain.TradeRecord
}

// NewLedger creates an empty ledger.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ledger")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("%w: profit model is required", ports.ErrConfigurationError)
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		th:       cfg.Thresholds,
		model:    cfg.Model,
		closer:   cfg.Closer,
		tradeLog: cfg.TradeLog,
		logger:   cfg.Logger,
		open:     make(map[int64]*domain.Position),
		peaks:    make(map[int64]decimal.Decimal),
		tickets:  make(map[int64]struct{}),
	}, nil
}

// Model returns the ledger's profit model.
func (l *Ledger) Model() ProfitModel { return l.model }

// Thresholds returns the close thresholds.
func (l *Ledger) Thresholds() Thresholds { return l.th }

// HasOpen reports whether an open position exists for tag on symbol.
func (l *Ledger) HasOpen(tag, symbol string) bool {
	for _, p := range l.open {
		if p.StrategyTag == tag && p.Symbol == symbol {
			return true
		}
	}
	return false
}

// Open registers a filled position. It is a no-op returning false when the
// strategy already holds a position on the symbol or the ticket was used
// before.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) (*domain.Position, bool) {
	op := "Open"
	if l.HasOpen(pos.StrategyTag, pos.Symbol) {
		l.logger.Debug(ctx, op+": duplicate entry ignored", map[string]interface{}{
			"symbol": pos.Symbol, "strategyTag": pos.StrategyTag,
		})
		return nil, false
	}
	if _, used := l.tickets[pos.ID]; used {
		l.logger.Warn(ctx, op+": ticket already used, ignoring", map[string]interface{}{"ticket": pos.ID, "symbol": pos.Symbol})
		return nil, false
	}

	p := pos
	p.State = domain.StateOpen
	p.ExitPrice = 0
	p.ExitTime = time.Time{}
	l.open[p.ID] = &p
	l.tickets[p.ID] = struct{}{}

	l.logger.Info(ctx, op+" position registered", map[string]interface{}{
		"ticket": p.ID, "symbol": p.Symbol, "side": p.Side, "entryPrice": p.EntryPrice, "strategyTag": p.StrategyTag,
	})
	return clonePosition(&p), true
}

// OpenPositions returns copies of the open positions on symbol, ordered by
// ticket. An empty symbol returns all open positions.
func (l *Ledger) OpenPositions(symbol string) []*domain.Position {
	out := make([]*domain.Position, 0, len(l.open))
	for _, p := range l.sorted() {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, clonePosition(p))
		}
	}
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int { return len(l.open) }

// Peak returns the highest profit observed for an open position.
func (l *Ledger) Peak(ticket int64) (float64, bool) {
	v, ok := l.peaks[ticket]
	if !ok {
		return 0, false
	}
	return v.InexactFloat64(), true
}

// Records returns a copy of the closed trade records in close order.
func (l *Ledger) Records() []domain.TradeRecord {
	out := make([]domain.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// CheckAndCloseAll applies the close rules to every open position with a
// quote. Per position: update the peak with the current profit, then check
// take-profit against the favourable extreme, stop-loss against the adverse
// extreme and the trailing stop against the current profit, in that order.
// It returns the records of positions closed in this pass.
func (l *Ledger) CheckAndCloseAll(ctx context.Context, quotes QuoteFunc) []domain.TradeRecord {
	op := "CheckAndCloseAll"
	var closed []domain.TradeRecord

	for _, pos := range l.sorted() {
		q, ok := quotes(pos.Symbol)
		if !ok {
			continue
		}
		current := l.model.Profit(pos, q.Price)
		peak, seen := l.peaks[pos.ID]
		if !seen || current.GreaterThan(peak) {
			peak = current
		}
		l.peaks[pos.ID] = peak

		reason, exit, fire := l.evaluate(pos, q, current, peak)
		if !fire {
			if current.Abs().LessThanOrEqual(decimal.NewFromFloat(l.th.BreakEven)) {
				l.logger.Debug(ctx, op+": break-even zone", map[string]interface{}{"ticket": pos.ID, "profit": current.InexactFloat64()})
			}
			continue
		}

		rec, err := l.close(ctx, pos, reason, exit, q.Time)
		if err != nil {
			continue
		}
		closed = append(closed, *rec)
	}
	return closed
}

// evaluate picks the first close rule that fires and the requested exit price.
func (l *Ledger) evaluate(pos *domain.Position, q Quote, current, peak decimal.Decimal) (domain.CloseReason, float64, bool) {
	tp := decimal.NewFromFloat(l.th.TakeProfit)
	sl := decimal.NewFromFloat(l.th.StopLoss)

	if l.model.Profit(pos, q.favourable(pos.Side)).GreaterThanOrEqual(tp) {
		if current.GreaterThanOrEqual(tp) {
			return domain.CloseReasonTakeProfit, q.Price, true
		}
		return domain.CloseReasonTakeProfit, l.model.PriceAt(pos, tp), true
	}
	if l.model.Profit(pos, q.adverse(pos.Side)).LessThanOrEqual(sl) {
		if current.LessThanOrEqual(sl) {
			return domain.CloseReasonStopLoss, q.Price, true
		}
		return domain.CloseReasonStopLoss, l.model.PriceAt(pos, sl), true
	}
	if l.th.TrailingActivation > 0 && peak.GreaterThanOrEqual(decimal.NewFromFloat(l.th.TrailingActivation)) {
		level := peak.Sub(decimal.NewFromFloat(l.th.TrailingStep))
		if current.LessThanOrEqual(level) {
			return domain.CloseReasonTrailing, q.Price, true
		}
	}
	return "", 0, false
}

// Close closes one open position on request.
func (l *Ledger) Close(ctx context.Context, ticket int64, reason domain.CloseReason, q Quote) (*domain.TradeRecord, error) {
	pos, ok := l.open[ticket]
	if !ok {
		return nil, fmt.Errorf("close ticket %d: %w", ticket, ports.ErrPositionNotOpen)
	}
	return l.close(ctx, pos, reason, q.Price, q.Time)
}

// close routes the close through the gateway, then removes the position,
// drops its peak entry and appends the record. A gateway failure leaves the
// position open.
func (l *Ledger) close(ctx context.Context, pos *domain.Position, reason domain.CloseReason, price float64, at time.Time) (*domain.TradeRecord, error) {
	op := "ClosePosition"
	exitPrice, exitTime := price, at

	if l.closer != nil {
		fill, err := l.closer.ClosePosition(ctx, clonePosition(pos), reason, price)
		if err != nil {
			err = fmt.Errorf("%s ticket %d: %w: %w", op, pos.ID, ports.ErrGatewayFailure, err)
			l.logger.Error(ctx, err, op+" failed, position kept open", map[string]interface{}{
				"ticket": pos.ID, "symbol": pos.Symbol, "reason": reason,
			})
			l.record(ctx, pos, domain.StatusCloseFail, price, at, err.Error())
			return nil, err
		}
		if fill != nil {
			if fill.Price > 0 {
				exitPrice = fill.Price
			}
			if !fill.Time.IsZero() {
				exitTime = fill.Time
			}
		}
	}

	profit := l.model.Profit(pos, exitPrice)
	rec := domain.TradeRecord{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		StrategyTag: pos.StrategyTag,
		Volume:      pos.Volume,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		EntryTime:   pos.EntryTime,
		CloseTime:   exitTime,
		Profit:      profit.InexactFloat64(),
		Outcome:     outcomeFor(reason, profit),
		Reason:      reason,
	}

	pos.State = reason.State()
	pos.ExitPrice = exitPrice
	pos.ExitTime = exitTime
	delete(l.open, pos.ID)
	delete(l.peaks, pos.ID)
	l.records = append(l.records, rec)

	l.logger.Info(ctx, op+" successful", map[string]interface{}{
		"ticket": pos.ID, "symbol": pos.Symbol, "reason": reason, "exitPrice": exitPrice,
		"profit": rec.Profit, "outcome": rec.Outcome,
	})
	l.record(ctx, pos, domain.StatusClosed, exitPrice, exitTime, string(reason))
	return &rec, nil
}

func (l *Ledger) record(ctx context.Context, pos *domain.Position, status domain.TradeStatus, price float64, at time.Time, details string) {
	if l.tradeLog == nil {
		return
	}
	event := domain.TradeEvent{
		Timestamp: at,
		Action:    domain.ActionClose,
		Ticket:    pos.ID,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Volume:    pos.Volume,
		Price:     price,
		Comment:   pos.Comment,
		Status:    status,
		Details:   details,
	}
	if err := l.tradeLog.Record(ctx, event); err != nil {
		l.logger.Warn(ctx, "Trade log write failed", map[string]interface{}{"ticket": pos.ID, "error": err.Error()})
	}
}

func (l *Ledger) sorted() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// outcomeFor maps a close to SUCCESS or FAILURE. Take-profit always
// succeeds and stop-loss always fails; other closes go by profit sign.
func outcomeFor(reason domain.CloseReason, profit decimal.Decimal) domain.Outcome {
	switch reason {
	case domain.CloseReasonTakeProfit:
		return domain.OutcomeSuccess
	case domain.CloseReasonStopLoss:
		return domain.OutcomeFailure
	}
	if profit.IsPositive() {
		return domain.OutcomeSuccess
	}
	return domain.OutcomeFailure
}

func clonePosition(p *domain.Position) *domain.Position {
	c := *p
	return &c
}
