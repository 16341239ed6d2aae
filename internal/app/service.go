package app

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vwapbot/internal/analysis"
	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/strategy/backtesting"
)

// Config holds the loop parameters of the live service.
type Config struct {
	Symbols        []string
	Timeframe      string
	BarCount       int
	Volume         float64
	OneTradePerBar bool
	LoopInterval   time.Duration
}

// Deps are the collaborators of the live service. Repositories and the
// trade log are optional.
type Deps struct {
	Source     ports.BarSource
	Gateway    ports.OrderGateway
	Analyzer   *analysis.Analyzer
	Strategies []ports.Strategy
	Ledger     *risk.Ledger
	Runs       ports.RunRepository
	Records    ports.TradeRecordRepository
	Positions  ports.PositionRepository
	TradeLog   ports.TradeLog
	Logger     ports.Logger
}

// TradingService runs the live poll loop: every LoopInterval it fetches bars
// for each symbol, applies the close rules on the newest price and evaluates
// entries on the bars before it.
type TradingService struct {
	cfg      Config
	deps     Deps
	logger   ports.Logger
	analyzer *analysis.Analyzer
	ledger   *risk.Ledger
	engine   *backtesting.Engine
	now      func() time.Time

	// mu serializes cycles; the ledger is not safe for concurrent use.
	mu  sync.Mutex
	run *domain.Run
}

// NewTradingService creates a new application service instance.
func NewTradingService(cfg Config, deps Deps) (*TradingService, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for trading service")
	}
	var errs []string
	if deps.Source == nil {
		errs = append(errs, "bar source is required")
	}
	if deps.Analyzer == nil {
		errs = append(errs, "analyzer is required")
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "at least one symbol is required")
	}
	if cfg.BarCount < 2 {
		errs = append(errs, "bar count must be at least 2")
	}
	if cfg.LoopInterval <= 0 {
		errs = append(errs, "loop interval must be positive")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}

	// Live always runs on the prior-bar horizon: the newest bar is still forming.
	engine, err := backtesting.NewEngine(backtesting.BacktestConfig{
		Volume:         cfg.Volume,
		Convention:     backtesting.PriorBar,
		OneTradePerBar: cfg.OneTradePerBar,
	}, backtesting.Deps{
		Analyzer:   deps.Analyzer,
		Strategies: deps.Strategies,
		Ledger:     deps.Ledger,
		Gateway:    deps.Gateway,
		TradeLog:   deps.TradeLog,
		Logger:     deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &TradingService{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		analyzer: deps.Analyzer,
		ledger:   deps.Ledger,
		engine:   engine,
		now:      time.Now,
	}, nil
}

// Start restores open positions, records the session and runs cycles until
// ctx is canceled or SIGINT/SIGTERM arrives. A cycle in progress always
// completes; the stop takes effect before the next one.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{
		"symbols": s.cfg.Symbols, "timeframe": s.cfg.Timeframe, "interval": s.cfg.LoopInterval.String(),
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Restore positions persisted by a previous session
	if err := s.Restore(ctx); err != nil {
		return err
	}

	// 2. Record the session
	if err := s.beginRun(ctx); err != nil {
		return err
	}

	// 3. Poll
	ticker := time.NewTicker(s.cfg.LoopInterval)
	defer ticker.Stop()
	for {
		s.RunCycle(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Shutdown requested, stopping before next cycle")
			s.finishRun(context.WithoutCancel(ctx))
			s.logger.Info(ctx, "Trading Service stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

// Restore loads open positions from the position repository into the ledger.
func (s *TradingService) Restore(ctx context.Context) error {
	op := "Restore"
	if s.deps.Positions == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	positions, err := s.deps.Positions.FindOpen(ctx)
	if err != nil {
		s.logger.Error(ctx, err, op+" failed")
		return fmt.Errorf("%s failed: %w", op, err)
	}
	restored := 0
	for _, p := range positions {
		if _, ok := s.ledger.Open(ctx, *p); ok {
			restored++
		}
	}
	s.logger.Info(ctx, op+" successful", map[string]interface{}{"found": len(positions), "restored": restored})
	return nil
}

func (s *TradingService) beginRun(ctx context.Context) error {
	op := "CreateRun"
	s.run = &domain.Run{
		ID:         uuid.NewString(),
		Mode:       domain.ModeLive,
		Symbols:    strings.Join(s.cfg.Symbols, ","),
		Timeframe:  s.cfg.Timeframe,
		Convention: string(backtesting.PriorBar),
		StartedAt:  s.now().UTC(),
	}
	if s.deps.Runs == nil {
		return nil
	}
	if err := s.deps.Runs.CreateRun(ctx, s.run); err != nil {
		s.logger.Error(ctx, err, op+" failed", map[string]interface{}{"runID": s.run.ID})
		return fmt.Errorf("%s failed: %w", op, err)
	}
	s.logger.Info(ctx, op+" successful", map[string]interface{}{"runID": s.run.ID})
	return nil
}

func (s *TradingService) finishRun(ctx context.Context) {
	op := "FinishRun"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	s.run.FinishedAt = s.now().UTC()
	s.run.Summary = domain.NewSummary(s.ledger.Records(), s.ledger.OpenCount())
	s.logger.Info(ctx, "Session summary", map[string]interface{}{
		"runID":         s.run.ID,
		"totalClosed":   s.run.Summary.TotalClosed,
		"success":       s.run.Summary.SuccessCount,
		"failure":       s.run.Summary.FailureCount,
		"successRate":   s.run.Summary.SuccessRate,
		"openPositions": s.run.Summary.OpenPositionsRemaining,
	})
	if s.deps.Runs == nil {
		return
	}
	if err := s.deps.Runs.FinishRun(ctx, s.run); err != nil {
		s.logger.Error(ctx, err, op+" failed", map[string]interface{}{"runID": s.run.ID})
	}
}

// RunID returns the identifier of the current session, or "".
func (s *TradingService) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.ID
}

// RunCycle performs one full pass over the configured symbols. It holds the
// service lock for the whole pass and ignores cancellation of ctx so that
// orders and closes already started are carried through.
func (s *TradingService) RunCycle(ctx context.Context) {
	op := "RunCycle"
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx = context.WithoutCancel(ctx)
	started := s.now()

	bars := s.fetchAll(ctx)
	for i, symbol := range s.cfg.Symbols {
		s.processSymbol(ctx, symbol, bars[i])
	}

	s.logger.Debug(ctx, op+" complete", map[string]interface{}{
		"symbols":       len(s.cfg.Symbols),
		"openPositions": s.ledger.OpenCount(),
		"elapsed":       s.now().Sub(started).String(),
	})
}

// fetchAll pulls bars for every symbol concurrently. A failed fetch leaves
// that symbol's slot empty.
func (s *TradingService) fetchAll(ctx context.Context) [][]domain.Bar {
	op := "GetBars"
	out := make([][]domain.Bar, len(s.cfg.Symbols))
	var g errgroup.Group
	for i, symbol := range s.cfg.Symbols {
		g.Go(func() error {
			bars, err := s.deps.Source.GetBars(ctx, symbol, s.cfg.Timeframe, s.cfg.BarCount)
			if err != nil {
				s.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbol": symbol})
				return nil
			}
			out[i] = bars
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *TradingService) processSymbol(ctx context.Context, symbol string, bars []domain.Bar) {
	op := "ProcessSymbol"
	last, ok := domain.BarWindow(bars).Last()
	if !ok {
		s.logger.Warn(ctx, op+": no bars, skipping", map[string]interface{}{"symbol": symbol, "reason": ports.ErrDataUnavailable.Error()})
		return
	}
	now := s.now().UTC()

	// 1. Close checks on the latest price
	closed := s.ledger.CheckAndCloseAll(ctx, func(sym string) (risk.Quote, bool) {
		if sym != symbol {
			return risk.Quote{}, false
		}
		return risk.Quote{Price: last.Close, Time: now}, true
	})
	for _, rec := range closed {
		s.persistClose(ctx, rec)
	}

	// 2. Market state on the completed bars
	window := domain.BarWindow(bars[:len(bars)-1])
	state := s.analyzer.AnalyzeWindow(ctx, symbol, window)

	// 3. Entries at the latest price
	recent := window
	if n := s.engine.RecentBars(); len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	entryBar := last
	entryBar.Time = now
	step := s.engine.Step(ctx, symbol, state, recent, entryBar)
	for _, pos := range step.Opened {
		s.persistOpen(ctx, pos)
	}

	s.logger.Info(ctx, op+" complete", map[string]interface{}{
		"symbol":       symbol,
		"price":        last.Close,
		"trend":        state.Trend,
		"confirmation": state.Confirmation,
		"signals":      step.Signals,
		"opened":       len(step.Opened),
		"closed":       len(closed),
	})
}

func (s *TradingService) persistOpen(ctx context.Context, pos *domain.Position) {
	if s.deps.Positions == nil {
		return
	}
	if err := s.deps.Positions.SaveOpen(ctx, pos); err != nil {
		s.logger.Error(ctx, err, "SaveOpen failed", map[string]interface{}{"ticket": pos.ID, "symbol": pos.Symbol})
	}
}

func (s *TradingService) persistClose(ctx context.Context, rec domain.TradeRecord) {
	if s.deps.Positions != nil {
		pos := &domain.Position{
			ID:        rec.PositionID,
			State:     rec.Reason.State(),
			ExitPrice: rec.ExitPrice,
			ExitTime:  rec.CloseTime,
		}
		if err := s.deps.Positions.MarkClosed(ctx, pos); err != nil {
			s.logger.Error(ctx, err, "MarkClosed failed", map[string]interface{}{"ticket": rec.PositionID})
		}
	}
	if s.deps.Records != nil && s.run != nil {
		if _, err := s.deps.Records.SaveRecord(ctx, s.run.ID, rec); err != nil {
			s.logger.Error(ctx, err, "SaveRecord failed", map[string]interface{}{"ticket": rec.PositionID})
		}
	}
}
