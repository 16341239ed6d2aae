// Package backtesting replays a bar series through the analyzer, the
// strategies and the position ledger, one bar at a time.
package backtesting

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/series"
	"vwapbot/internal/strategy/strategies"
)

// Convention selects which bars feed the market state for entry decisions.
type Convention string

const (
	// PriorBar analyses bars up to i-1 and enters at the close of bar i.
	PriorBar Convention = "prior_bar"
	// SameBar analyses bars up to i and enters at the close of bar i.
	SameBar Convention = "same_bar"
)

// ParseConvention converts a configuration string into a Convention.
func ParseConvention(s string) (Convention, error) {
	switch c := Convention(strings.ToLower(strings.TrimSpace(s))); c {
	case "", PriorBar:
		return PriorBar, nil
	case SameBar:
		return SameBar, nil
	default:
		return "", fmt.Errorf("%w: unknown convention %q", ports.ErrConfigurationError, s)
	}
}

// DefaultRecentBars is the trailing window handed to strategies.
const DefaultRecentBars = 3

// MarketAnalyzer produces a market state from a bar source.
type MarketAnalyzer interface {
	Analyze(ctx context.Context, symbol string, src ports.BarSource) domain.MarketState
}

// BacktestConfig holds configuration for a replay run
type BacktestConfig struct {
	Volume         float64
	Convention     Convention
	OneTradePerBar bool
	RecentBars     int
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Analyzer   MarketAnalyzer
	Strategies []ports.Strategy // evaluated in this order
	Ledger     *risk.Ledger
	Gateway    ports.OrderGateway
	TradeLog   ports.TradeLog // optional
	Logger     ports.Logger
}

// BacktestResult holds the results of a replay run
type BacktestResult struct {
	Symbol   string
	Bars     int
	Signals  int
	Orders   int
	Rejected int
	Records  []domain.TradeRecord
	Summary  domain.Summary
}

// Engine drives one replay. It owns no goroutines; a run is strictly
// sequential over the bars.
type Engine struct {
	cfg        BacktestConfig
	analyzer   MarketAnalyzer
	strategies []ports.Strategy
	ledger     *risk.Ledger
	gateway    ports.OrderGateway
	tradeLog   ports.TradeLog
	logger     ports.Logger
}

// NewEngine validates the dependencies and creates an engine.
func NewEngine(cfg BacktestConfig, deps Deps) (*Engine, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for backtest engine")
	}
	var errs []string
	if deps.Analyzer == nil {
		errs = append(errs, "analyzer is required")
	}
	if len(deps.Strategies) == 0 {
		errs = append(errs, "at least one strategy is required")
	}
	if deps.Ledger == nil {
		errs = append(errs, "ledger is required")
	}
	if deps.Gateway == nil {
		errs = append(errs, "order gateway is required")
	}
	if cfg.Volume <= 0 {
		errs = append(errs, "volume must be positive")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	if cfg.Convention == "" {
		cfg.Convention = PriorBar
	}
	if cfg.RecentBars < 1 {
		cfg.RecentBars = DefaultRecentBars
	}
	return &Engine{
		cfg:        cfg,
		analyzer:   deps.Analyzer,
		strategies: deps.Strategies,
		ledger:     deps.Ledger,
		gateway:    deps.Gateway,
		tradeLog:   deps.TradeLog,
		logger:     deps.Logger,
	}, nil
}

// Run replays s from its current cursor to the last bar. Positions still
// open at the end stay open and are counted in the summary.
func (e *Engine) Run(ctx context.Context, s *series.Series) (*BacktestResult, error) {
	op := "Backtest"
	if s == nil || s.Len() == 0 {
		return nil, fmt.Errorf("%s failed: %w: empty series", op, ports.ErrDataUnavailable)
	}
	symbol := s.Symbol()
	result := &BacktestResult{Symbol: symbol}

	e.logger.Info(ctx, op+" started", map[string]interface{}{
		"symbol": symbol, "bars": s.Len(), "convention": e.cfg.Convention, "strategies": len(e.strategies),
	})

	for s.Advance() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s interrupted at bar %d: %w: %w", op, s.Cursor(), ports.ErrContextCanceled, err)
		}
		i := s.Cursor()
		bar, _ := s.Current()
		result.Bars++

		// 1. Close checks against the new bar
		e.ledger.CheckAndCloseAll(ctx, func(sym string) (risk.Quote, bool) {
			if sym != symbol {
				return risk.Quote{}, false
			}
			return risk.BarQuote(bar), true
		})

		// 2. Market state on the analysis horizon
		end := i - 1
		if e.cfg.Convention == SameBar {
			end = i
		}
		state := e.analyzer.Analyze(ctx, symbol, s.View(end))

		// 3. Entries
		step := e.Step(ctx, symbol, state, s.Window(end, e.cfg.RecentBars), bar)
		result.Signals += step.Signals
		result.Orders += len(step.Opened)
		result.Rejected += step.Rejected
	}

	result.Records = e.ledger.Records()
	result.Summary = domain.NewSummary(result.Records, e.ledger.OpenCount())

	e.logger.Info(ctx, op+" finished", map[string]interface{}{
		"symbol":        symbol,
		"bars":          result.Bars,
		"signals":       result.Signals,
		"orders":        result.Orders,
		"totalClosed":   result.Summary.TotalClosed,
		"success":       result.Summary.SuccessCount,
		"failure":       result.Summary.FailureCount,
		"successRate":   result.Summary.SuccessRate,
		"openPositions": result.Summary.OpenPositionsRemaining,
	})
	return result, nil
}

// StepResult reports what one entry pass did.
type StepResult struct {
	Signals  int
	Rejected int
	Opened   []*domain.Position
}

// RecentBars returns the length of the trailing window strategies expect.
func (e *Engine) RecentBars() int { return e.cfg.RecentBars }

// Step runs the strategies in order against state and enters at bar's close
// for each actionable signal whose strategy holds nothing on symbol. With
// OneTradePerBar the pass stops after the first position opened.
func (e *Engine) Step(ctx context.Context, symbol string, state domain.MarketState, recent domain.BarWindow, bar domain.Bar) StepResult {
	var res StepResult
	for _, strat := range e.strategies {
		sig := strat.CheckForEntry(ctx, ports.EntryInput{
			Symbol:    symbol,
			State:     state,
			Recent:    recent,
			Positions: e.ledger.OpenPositions(symbol),
		})
		side, ok := sig.Side()
		if !ok {
			continue
		}
		res.Signals++
		if e.ledger.HasOpen(strat.Tag(), symbol) {
			continue
		}
		pos, ok := e.enter(ctx, strat, sig, side, symbol, bar)
		if !ok {
			res.Rejected++
			continue
		}
		res.Opened = append(res.Opened, pos)
		if e.cfg.OneTradePerBar {
			break
		}
	}
	return res
}

// enter places a market order at the bar close and registers the fill.
func (e *Engine) enter(ctx context.Context, strat ports.Strategy, sig domain.Signal, side domain.Side, symbol string, bar domain.Bar) (*domain.Position, bool) {
	op := "PlaceOrder"
	req := ports.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Volume:      e.cfg.Volume,
		Price:       bar.Close,
		Time:        bar.Time,
		Comment:     strategies.EntryComment(strat, sig),
		StrategyTag: strat.Tag(),
	}
	req.SL, req.TP = e.protectiveLevels(req)

	fill, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Error(ctx, err, op+" failed", map[string]interface{}{
			"symbol": symbol, "side": side, "strategy": strat.Name(), "price": bar.Close,
		})
		e.logPlace(ctx, req, 0, domain.StatusFailure, err.Error())
		return nil, false
	}

	pos := domain.Position{
		ID:          fill.Ticket,
		Symbol:      symbol,
		Side:        side,
		Volume:      req.Volume,
		EntryPrice:  fill.Price,
		EntryTime:   fill.Time,
		StrategyTag: req.StrategyTag,
		Comment:     req.Comment,
	}
	if pos.EntryTime.IsZero() {
		pos.EntryTime = bar.Time
	}
	opened, ok := e.ledger.Open(ctx, pos)
	if !ok {
		return nil, false
	}
	req.Price = fill.Price
	e.logPlace(ctx, req, fill.Ticket, domain.StatusSuccess, "")
	return opened, true
}

// protectiveLevels returns the stop-loss and take-profit prices implied by
// the ledger thresholds. They are informational only.
func (e *Engine) protectiveLevels(req ports.OrderRequest) (sl, tp float64) {
	th := e.ledger.Thresholds()
	probe := &domain.Position{Side: req.Side, Volume: req.Volume, EntryPrice: req.Price}
	model := e.ledger.Model()
	return model.PriceAt(probe, decimal.NewFromFloat(th.StopLoss)), model.PriceAt(probe, decimal.NewFromFloat(th.TakeProfit))
}

func (e *Engine) logPlace(ctx context.Context, req ports.OrderRequest, ticket int64, status domain.TradeStatus, details string) {
	if e.tradeLog == nil {
		return
	}
	event := domain.TradeEvent{
		Timestamp: req.Time,
		Action:    domain.ActionPlace,
		Ticket:    ticket,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    req.Volume,
		Price:     req.Price,
		SL:        req.SL,
		TP:        req.TP,
		Comment:   req.Comment,
		Status:    status,
		Details:   details,
	}
	if err := e.tradeLog.Record(ctx, event); err != nil {
		e.logger.Warn(ctx, "Trade log write failed", map[string]interface{}{"symbol": req.Symbol, "error": err.Error()})
	}
}
