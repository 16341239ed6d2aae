package strategies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// MockLogger implements ports.Logger for testing
type MockLogger struct{}

func (m *MockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *MockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *MockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *MockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func bars(closes ...float64) domain.BarWindow {
	w := make(domain.BarWindow, len(closes))
	for i, c := range closes {
		w[i] = domain.Bar{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return w
}

func upState(vwap float64) domain.MarketState {
	return domain.MarketState{
		Symbol: "BTCUSD", CurrentPrice: vwap + 1, HasPrice: true, VWAP: vwap, HasVWAP: true,
		Trend: domain.TrendUp, Bias: domain.BiasBullish, Confirmation: domain.ConfirmStrongBuy,
	}
}

func downState(vwap float64) domain.MarketState {
	return domain.MarketState{
		Symbol: "BTCUSD", CurrentPrice: vwap - 1, HasPrice: true, VWAP: vwap, HasVWAP: true,
		Trend: domain.TrendDown, Bias: domain.BiasBearish, Confirmation: domain.ConfirmStrongSell,
	}
}

func TestVWAPBounce_CheckForEntry(t *testing.T) {
	s := NewVWAPBounce("20240902", &MockLogger{})
	weakBuy := upState(100)
	weakBuy.Confirmation = domain.ConfirmWeakBuy
	consolidating := upState(100)
	consolidating.Trend = domain.TrendConsolidation
	consolidating.Confirmation = domain.ConfirmWeakBuy
	neutral := upState(100)
	neutral.Confirmation = domain.ConfirmNeutral
	noVWAP := upState(100)
	noVWAP.HasVWAP = false

	tests := []struct {
		name      string
		state     domain.MarketState
		recent    domain.BarWindow
		positions []*domain.Position
		want      domain.Signal
	}{
		{"bounce up in uptrend", upState(100), bars(98, 99, 101), nil, domain.SignalBuy},
		{"weak buy still allowed", weakBuy, bars(98, 99, 101), nil, domain.SignalBuy},
		{"bounce down in downtrend", downState(100), bars(102, 101, 99), nil, domain.SignalSell},
		{"no cross", upState(100), bars(101, 102, 103), nil, domain.SignalNone},
		{"cross against trend", downState(100), bars(98, 99, 101), nil, domain.SignalNone},
		{"consolidation blocks", consolidating, bars(98, 99, 101), nil, domain.SignalNone},
		{"neutral confirmation", neutral, bars(98, 99, 101), nil, domain.SignalNone},
		{"missing vwap", noVWAP, bars(98, 99, 101), nil, domain.SignalNone},
		{"two bars is not enough", upState(100), bars(99, 101), nil, domain.SignalNone},
		{
			name:   "own open position blocks",
			state:  upState(100),
			recent: bars(98, 99, 101),
			positions: []*domain.Position{
				{ID: 1, Symbol: "BTCUSD", StrategyTag: "20240902", State: domain.StateOpen},
			},
			want: domain.SignalNone,
		},
		{
			name:   "other strategy position does not block",
			state:  upState(100),
			recent: bars(98, 99, 101),
			positions: []*domain.Position{
				{ID: 1, Symbol: "BTCUSD", StrategyTag: "20240903", State: domain.StateOpen},
			},
			want: domain.SignalBuy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CheckForEntry(context.Background(), ports.EntryInput{
				Symbol: "BTCUSD", State: tt.state, Recent: tt.recent, Positions: tt.positions,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVWAPTouch_CheckForEntry(t *testing.T) {
	s := NewVWAPTouch("20240903", &MockLogger{})

	tests := []struct {
		name   string
		state  domain.MarketState
		recent domain.BarWindow
		want   domain.Signal
	}{
		{"touch and close above", upState(100), domain.BarWindow{{High: 102, Low: 99.5, Close: 101}}, domain.SignalBuy},
		{"no touch", upState(100), domain.BarWindow{{High: 103, Low: 100.5, Close: 102}}, domain.SignalNone},
		{"touch but close below", upState(100), domain.BarWindow{{High: 101, Low: 98, Close: 99}}, domain.SignalNone},
		{"touch and close below in downtrend", downState(100), domain.BarWindow{{High: 100.5, Low: 98, Close: 99}}, domain.SignalSell},
		{"empty window", upState(100), nil, domain.SignalNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CheckForEntry(context.Background(), ports.EntryInput{Symbol: "BTCUSD", State: tt.state, Recent: tt.recent})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild(t *testing.T) {
	t.Run("keeps configured order and tags", func(t *testing.T) {
		got, err := Build([]string{NameVWAPTouch, NameVWAPBounce}, 20240901, &MockLogger{})
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, NameVWAPTouch, got[0].Name())
		assert.Equal(t, "20240903", got[0].Tag())
		assert.Equal(t, NameVWAPBounce, got[1].Name())
		assert.Equal(t, "20240902", got[1].Tag())
	})

	tests := []struct {
		name  string
		names []string
	}{
		{"empty list", nil},
		{"unknown name", []string{"ma_crossover"}},
		{"duplicate name", []string{NameVWAPBounce, NameVWAPBounce}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.names, 1, &MockLogger{})
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestEntryComment(t *testing.T) {
	s := NewVWAPBounce("1", &MockLogger{})
	assert.Equal(t, "VWAP_BOUNCE_BUY", EntryComment(s, domain.SignalBuy))
	assert.Equal(t, "VWAP_TOUCH_SELL", EntryComment(NewVWAPTouch("2", &MockLogger{}), domain.SignalSell))
}
