package backtesting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwapbot/internal/adapters/paper"
	"vwapbot/internal/analysis"
	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/series"
	"vwapbot/internal/strategy/strategies"
)

// MockLogger implements ports.Logger for testing
type MockLogger struct{}

func (m *MockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *MockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *MockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *MockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockTradeLog struct {
	events []domain.TradeEvent
}

func (m *mockTradeLog) Record(ctx context.Context, e domain.TradeEvent) error {
	m.events = append(m.events, e)
	return nil
}

// MockStrategy signals the same thing on every bar.
type MockStrategy struct {
	name   string
	tag    string
	signal domain.Signal
	calls  int
}

func (m *MockStrategy) Name() string { return m.name }
func (m *MockStrategy) Tag() string  { return m.tag }
func (m *MockStrategy) CheckForEntry(ctx context.Context, in ports.EntryInput) domain.Signal {
	m.calls++
	return m.signal
}

// spyAnalyzer records how many bars each analysis could see.
type spyAnalyzer struct {
	visible []int
}

func (s *spyAnalyzer) Analyze(ctx context.Context, symbol string, src ports.BarSource) domain.MarketState {
	bars, _ := src.GetBars(ctx, symbol, "", 1000)
	s.visible = append(s.visible, len(bars))
	return domain.MarketState{Symbol: symbol, Trend: domain.TrendError, Confirmation: domain.ConfirmNeutral}
}

var t0 = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

func flatSeries(t *testing.T, closes ...float64) *series.Series {
	t.Helper()
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	s, err := series.FromBars("BTCUSD", "5m", bars)
	require.NoError(t, err)
	return s
}

// bouncePath rises, dips below VWAP on bar 5 and closes back above it on bar 6.
var bouncePath = []float64{100, 101, 102, 103, 104, 101, 105, 107.5, 110}

type fixture struct {
	engine   *Engine
	ledger   *risk.Ledger
	gateway  *paper.Gateway
	tradeLog *mockTradeLog
}

func newFixture(t *testing.T, cfg BacktestConfig, strats []ports.Strategy, an MarketAnalyzer) *fixture {
	t.Helper()
	logger := &MockLogger{}
	tl := &mockTradeLog{}
	gw := paper.New(1, logger)
	ledger, err := risk.NewLedger(risk.Config{
		Thresholds: risk.Thresholds{TakeProfit: 2, StopLoss: -10},
		Model:      risk.PriceDistance{},
		Closer:     gw,
		TradeLog:   tl,
		Logger:     logger,
	})
	require.NoError(t, err)
	if an == nil {
		an = analysis.NewAnalyzer(analysis.Config{Timeframe: "5m", SlopeLookback: 2, SRLookback: 20}, logger)
	}
	if strats == nil {
		strats, err = strategies.Build([]string{strategies.NameVWAPBounce, strategies.NameVWAPTouch}, 20240900, logger)
		require.NoError(t, err)
	}
	if cfg.Volume == 0 {
		cfg.Volume = 0.1
	}
	e, err := NewEngine(cfg, Deps{
		Analyzer:   an,
		Strategies: strats,
		Ledger:     ledger,
		Gateway:    gw,
		TradeLog:   tl,
		Logger:     logger,
	})
	require.NoError(t, err)
	return &fixture{engine: e, ledger: ledger, gateway: gw, tradeLog: tl}
}

func TestBacktest_BounceThenTakeProfit(t *testing.T) {
	tests := []struct {
		name       string
		convention Convention
		entryPrice float64
		entryBar   int
		exitPrice  float64
	}{
		{name: "same bar", convention: SameBar, entryPrice: 105, entryBar: 6, exitPrice: 107.5},
		{name: "prior bar", convention: PriorBar, entryPrice: 107.5, entryBar: 7, exitPrice: 110},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, BacktestConfig{Convention: tt.convention}, nil, nil)

			result, err := f.engine.Run(context.Background(), flatSeries(t, bouncePath...))
			require.NoError(t, err)

			assert.Equal(t, len(bouncePath), result.Bars)
			assert.Equal(t, 1, result.Signals)
			assert.Equal(t, 1, result.Orders)
			require.Len(t, result.Records, 1)

			rec := result.Records[0]
			assert.Equal(t, int64(1), rec.PositionID)
			assert.Equal(t, domain.Long, rec.Side)
			assert.Equal(t, "20240901", rec.StrategyTag)
			assert.Equal(t, tt.entryPrice, rec.EntryPrice)
			assert.Equal(t, t0.Add(time.Duration(tt.entryBar)*5*time.Minute), rec.EntryTime)
			assert.Equal(t, tt.exitPrice, rec.ExitPrice)
			assert.InDelta(t, 2.5, rec.Profit, 1e-9)
			assert.Equal(t, domain.CloseReasonTakeProfit, rec.Reason)
			assert.Equal(t, domain.OutcomeSuccess, rec.Outcome)

			assert.Equal(t, domain.Summary{TotalClosed: 1, SuccessCount: 1, SuccessRate: 100}, result.Summary)
		})
	}
}

func TestBacktest_TradeLogEvents(t *testing.T) {
	f := newFixture(t, BacktestConfig{Convention: SameBar}, nil, nil)

	_, err := f.engine.Run(context.Background(), flatSeries(t, bouncePath...))
	require.NoError(t, err)

	require.Len(t, f.tradeLog.events, 2)
	place := f.tradeLog.events[0]
	assert.Equal(t, domain.ActionPlace, place.Action)
	assert.Equal(t, domain.StatusSuccess, place.Status)
	assert.Equal(t, int64(1), place.Ticket)
	assert.Equal(t, 105.0, place.Price)
	assert.InDelta(t, 95.0, place.SL, 1e-9)
	assert.InDelta(t, 107.0, place.TP, 1e-9)
	assert.Equal(t, "VWAP_BOUNCE_BUY", place.Comment)

	closeEvt := f.tradeLog.events[1]
	assert.Equal(t, domain.ActionClose, closeEvt.Action)
	assert.Equal(t, domain.StatusClosed, closeEvt.Status)
	assert.Equal(t, 107.5, closeEvt.Price)
}

func TestBacktest_OpenPositionAtEnd(t *testing.T) {
	f := newFixture(t, BacktestConfig{Convention: PriorBar}, nil, nil)

	// Ends on the entry bar: nothing is left to close the position.
	result, err := f.engine.Run(context.Background(), flatSeries(t, bouncePath[:8]...))
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	assert.Equal(t, domain.Summary{OpenPositionsRemaining: 1}, result.Summary)
	assert.Equal(t, 1, f.ledger.OpenCount())
}

func TestBacktest_AnalysisHorizon(t *testing.T) {
	tests := []struct {
		name       string
		convention Convention
		want       []int
	}{
		{name: "prior bar excludes the current bar", convention: PriorBar, want: []int{0, 1, 2, 3}},
		{name: "same bar includes the current bar", convention: SameBar, want: []int{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyAnalyzer{}
			f := newFixture(t, BacktestConfig{Convention: tt.convention}, nil, spy)

			_, err := f.engine.Run(context.Background(), flatSeries(t, 100, 101, 102, 103))
			require.NoError(t, err)
			assert.Equal(t, tt.want, spy.visible)
		})
	}
}

func TestBacktest_OneTradePerBar(t *testing.T) {
	tests := []struct {
		name           string
		oneTradePerBar bool
		wantOpen       int
		wantSecondCall int
	}{
		{name: "exclusive", oneTradePerBar: true, wantOpen: 1, wantSecondCall: 0},
		{name: "independent", oneTradePerBar: false, wantOpen: 2, wantSecondCall: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := &MockStrategy{name: "first", tag: "1", signal: domain.SignalBuy}
			second := &MockStrategy{name: "second", tag: "2", signal: domain.SignalSell}
			f := newFixture(t, BacktestConfig{Convention: SameBar, OneTradePerBar: tt.oneTradePerBar},
				[]ports.Strategy{first, second}, &spyAnalyzer{})

			result, err := f.engine.Run(context.Background(), flatSeries(t, 100))
			require.NoError(t, err)

			assert.Equal(t, tt.wantOpen, f.ledger.OpenCount())
			assert.Equal(t, tt.wantOpen, result.Orders)
			assert.Equal(t, tt.wantSecondCall, second.calls)
			assert.Equal(t, 1, first.calls)
		})
	}
}

func TestBacktest_NoDuplicatePerStrategy(t *testing.T) {
	buy := &MockStrategy{name: "always", tag: "7", signal: domain.SignalBuy}
	f := newFixture(t, BacktestConfig{Convention: SameBar}, []ports.Strategy{buy}, &spyAnalyzer{})

	result, err := f.engine.Run(context.Background(), flatSeries(t, 100, 100, 100, 100))
	require.NoError(t, err)

	assert.Equal(t, 4, result.Signals)
	assert.Equal(t, 1, result.Orders)
	assert.Equal(t, 1, f.ledger.OpenCount())
}

func TestBacktest_GatewayRejection(t *testing.T) {
	buy := &MockStrategy{name: "always", tag: "7", signal: domain.SignalBuy}
	f := newFixture(t, BacktestConfig{Convention: SameBar}, []ports.Strategy{buy}, &spyAnalyzer{})
	f.gateway.FailPlace = func(req ports.OrderRequest) error { return errors.New("market closed") }

	result, err := f.engine.Run(context.Background(), flatSeries(t, 100, 101))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Rejected)
	assert.Zero(t, result.Orders)
	assert.Zero(t, f.ledger.OpenCount())
	require.Len(t, f.tradeLog.events, 2)
	for _, e := range f.tradeLog.events {
		assert.Equal(t, domain.ActionPlace, e.Action)
		assert.Equal(t, domain.StatusFailure, e.Status)
		assert.Contains(t, e.Details, "market closed")
	}
}

func TestBacktest_ContextCanceled(t *testing.T) {
	f := newFixture(t, BacktestConfig{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Run(ctx, flatSeries(t, bouncePath...))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBacktest_EmptySeries(t *testing.T) {
	f := newFixture(t, BacktestConfig{}, nil, nil)

	_, err := f.engine.Run(context.Background(), series.New("BTCUSD", "5m"))
	assert.ErrorIs(t, err, ports.ErrDataUnavailable)
}

func TestNewEngine_Validation(t *testing.T) {
	logger := &MockLogger{}
	_, err := NewEngine(BacktestConfig{}, Deps{Logger: logger})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Contains(t, err.Error(), "analyzer is required")
	assert.Contains(t, err.Error(), "volume must be positive")

	_, err = NewEngine(BacktestConfig{Volume: 1}, Deps{})
	assert.Error(t, err)
}

func TestParseConvention(t *testing.T) {
	tests := []struct {
		in      string
		want    Convention
		wantErr bool
	}{
		{in: "", want: PriorBar},
		{in: "prior_bar", want: PriorBar},
		{in: " SAME_BAR ", want: SameBar},
		{in: "next_bar", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConvention(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrConfigurationError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
