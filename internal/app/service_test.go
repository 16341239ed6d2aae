package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwapbot/internal/adapters/paper"
	"vwapbot/internal/analysis"
	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
	"vwapbot/internal/risk"
	"vwapbot/internal/strategy/strategies"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockSource struct {
	mu   sync.Mutex
	bars map[string][]domain.Bar
	errs map[string]error
}

func (m *mockSource) GetBars(ctx context.Context, symbol, timeframe string, count int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[symbol]; err != nil {
		return nil, err
	}
	return m.bars[symbol], nil
}

func (m *mockSource) set(symbol string, bars []domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

type mockPositionRepo struct {
	open   []*domain.Position
	saved  []*domain.Position
	closed []*domain.Position
	err    error
}

func (m *mockPositionRepo) SaveOpen(ctx context.Context, pos *domain.Position) error {
	m.saved = append(m.saved, pos)
	return nil
}

func (m *mockPositionRepo) MarkClosed(ctx context.Context, pos *domain.Position) error {
	m.closed = append(m.closed, pos)
	return nil
}

func (m *mockPositionRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	return m.open, m.err
}

type mockRecordRepo struct {
	runIDs  []string
	records []domain.TradeRecord
}

func (m *mockRecordRepo) SaveRecord(ctx context.Context, runID string, rec domain.TradeRecord) (int64, error) {
	m.runIDs = append(m.runIDs, runID)
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func (m *mockRecordRepo) FindByRun(ctx context.Context, runID string) ([]domain.TradeRecord, error) {
	return m.records, nil
}

func (m *mockRecordRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	return m.records, nil
}

type mockRunRepo struct {
	mu       sync.Mutex
	created  []*domain.Run
	finished []domain.Run
}

func (m *mockRunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, run)
	return nil
}

func (m *mockRunRepo) FinishRun(ctx context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, *run)
	return nil
}

func (m *mockRunRepo) FindRun(ctx context.Context, id string) (*domain.Run, error) {
	return nil, nil
}

var (
	t0    = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	clock = time.Date(2024, 9, 1, 1, 0, 0, 0, time.UTC)
)

func closes(values ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(values))
	for i, c := range values {
		bars[i] = domain.Bar{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

type fixture struct {
	svc       *TradingService
	source    *mockSource
	ledger    *risk.Ledger
	positions *mockPositionRepo
	records   *mockRecordRepo
	runs      *mockRunRepo
	logger    *mockLogger
}

func newFixture(t *testing.T, symbols ...string) *fixture {
	t.Helper()
	logger := &mockLogger{}
	gw := paper.New(1, logger)
	ledger, err := risk.NewLedger(risk.Config{
		Thresholds: risk.Thresholds{TakeProfit: 2, StopLoss: -10},
		Model:      risk.PriceDistance{},
		Closer:     gw,
		Logger:     logger,
	})
	require.NoError(t, err)
	strats, err := strategies.Build([]string{strategies.NameVWAPBounce, strategies.NameVWAPTouch}, 20240900, logger)
	require.NoError(t, err)

	f := &fixture{
		source:    &mockSource{bars: map[string][]domain.Bar{}, errs: map[string]error{}},
		ledger:    ledger,
		positions: &mockPositionRepo{},
		records:   &mockRecordRepo{},
		runs:      &mockRunRepo{},
		logger:    logger,
	}
	f.svc, err = NewTradingService(Config{
		Symbols:        symbols,
		Timeframe:      "5m",
		BarCount:       300,
		Volume:         0.1,
		OneTradePerBar: true,
		LoopInterval:   5 * time.Millisecond,
	}, Deps{
		Source:     f.source,
		Gateway:    gw,
		Analyzer:   analysis.NewAnalyzer(analysis.Config{Timeframe: "5m", SlopeLookback: 2, SRLookback: 20}, logger),
		Strategies: strats,
		Ledger:     ledger,
		Runs:       f.runs,
		Records:    f.records,
		Positions:  f.positions,
		Logger:     logger,
	})
	require.NoError(t, err)
	f.svc.now = func() time.Time { return clock }
	return f
}

func TestRunCycle_EntryThenTakeProfit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "BTCUSD")
	require.NoError(t, f.svc.beginRun(ctx))

	// The newest bar is the forming one: analysis sees the bounce in the
	// completed bars and the entry fills at 107.5.
	f.source.set("BTCUSD", closes(100, 101, 102, 103, 104, 101, 105, 107.5))
	f.svc.RunCycle(ctx)

	require.Len(t, f.positions.saved, 1)
	pos := f.positions.saved[0]
	assert.Equal(t, int64(1), pos.ID)
	assert.Equal(t, "20240901", pos.StrategyTag)
	assert.Equal(t, domain.Long, pos.Side)
	assert.Equal(t, 107.5, pos.EntryPrice)
	assert.Equal(t, clock, pos.EntryTime)
	assert.Equal(t, 1, f.ledger.OpenCount())

	f.source.set("BTCUSD", closes(100, 101, 102, 103, 104, 101, 105, 107.5, 110))
	f.svc.RunCycle(ctx)

	require.Len(t, f.records.records, 1)
	rec := f.records.records[0]
	assert.Equal(t, domain.CloseReasonTakeProfit, rec.Reason)
	assert.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, 110.0, rec.ExitPrice)
	assert.InDelta(t, 2.5, rec.Profit, 1e-9)
	assert.Equal(t, []string{f.svc.RunID()}, f.records.runIDs)

	require.Len(t, f.positions.closed, 1)
	assert.Equal(t, int64(1), f.positions.closed[0].ID)
	assert.Equal(t, domain.StateClosedTP, f.positions.closed[0].State)
	assert.Equal(t, 110.0, f.positions.closed[0].ExitPrice)
	assert.Zero(t, f.ledger.OpenCount())
	assert.Len(t, f.positions.saved, 1)
}

func TestRunCycle_FetchFailureIsolated(t *testing.T) {
	f := newFixture(t, "ETHUSD", "BTCUSD")
	f.source.errs["ETHUSD"] = errors.New("timeout")
	f.source.set("BTCUSD", closes(100, 101, 102, 103, 104, 101, 105, 107.5))

	f.svc.RunCycle(context.Background())

	assert.Contains(t, f.logger.errorMsgs, "GetBars failed")
	assert.Contains(t, f.logger.warnMsgs, "ProcessSymbol: no bars, skipping")
	require.Len(t, f.positions.saved, 1)
	assert.Equal(t, "BTCUSD", f.positions.saved[0].Symbol)
}

func TestRunCycle_CanceledContextStillCompletes(t *testing.T) {
	f := newFixture(t, "BTCUSD")
	f.source.set("BTCUSD", closes(100, 101, 102, 103, 104, 101, 105, 107.5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.svc.RunCycle(ctx)

	assert.Len(t, f.positions.saved, 1)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "BTCUSD")
	f.positions.open = []*domain.Position{{
		ID: 7, Symbol: "BTCUSD", Side: domain.Long, Volume: 0.1, EntryPrice: 100, EntryTime: t0,
		StrategyTag: "20240901", State: domain.StateOpen,
	}}
	require.NoError(t, f.svc.Restore(ctx))
	assert.True(t, f.ledger.HasOpen("20240901", "BTCUSD"))
	require.NoError(t, f.svc.beginRun(ctx))

	f.source.set("BTCUSD", closes(100, 100, 112))
	f.svc.RunCycle(ctx)

	require.NotEmpty(t, f.records.records)
	rec := f.records.records[0]
	assert.Equal(t, int64(7), rec.PositionID)
	assert.Equal(t, domain.CloseReasonTakeProfit, rec.Reason)
	assert.InDelta(t, 12, rec.Profit, 1e-9)
	require.NotEmpty(t, f.positions.closed)
	assert.Equal(t, int64(7), f.positions.closed[0].ID)
}

func TestRestore_RepositoryError(t *testing.T) {
	f := newFixture(t, "BTCUSD")
	f.positions.err = ports.ErrQueryFailed

	err := f.svc.Restore(context.Background())
	assert.ErrorIs(t, err, ports.ErrQueryFailed)
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture(t, "BTCUSD")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	require.NoError(t, f.svc.Start(ctx))

	f.runs.mu.Lock()
	defer f.runs.mu.Unlock()
	require.Len(t, f.runs.created, 1)
	require.Len(t, f.runs.finished, 1)
	run := f.runs.finished[0]
	assert.Equal(t, f.runs.created[0].ID, run.ID)
	assert.Equal(t, domain.ModeLive, run.Mode)
	assert.Equal(t, "BTCUSD", run.Symbols)
	assert.Equal(t, clock, run.FinishedAt)
	assert.Equal(t, domain.Summary{}, run.Summary)
}

func TestNewTradingService_Validation(t *testing.T) {
	logger := &mockLogger{}
	_, err := NewTradingService(Config{}, Deps{})
	require.Error(t, err)

	_, err = NewTradingService(Config{Symbols: []string{"BTCUSD"}, BarCount: 1}, Deps{Logger: logger})
	require.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Contains(t, err.Error(), "bar source is required")
	assert.Contains(t, err.Error(), "bar count must be at least 2")
	assert.Contains(t, err.Error(), "loop interval must be positive")
}
