package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwapbot/internal/domain"
)

var t0 = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

func TestBarsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	bars := []domain.Bar{
		{Time: t0, Open: 100, High: 101.5, Low: 99.25, Close: 101, Volume: 3},
		{Time: t0.Add(5 * time.Minute), Open: 101, High: 102, Low: 100.5, Close: 101.75, Volume: 0.5},
	}
	require.NoError(t, WriteBarsToCSV(bars, path))

	got, err := ReadBarsFromCSV(path)
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestReadBarsFromCSV_Variants(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []domain.Bar
		wantErr bool
	}{
		{
			name:    "unix millis and reordered columns",
			content: "open_time,close,open,high,low,tick_volume\n1725148800000,2,1,3,0.5,7\n",
			want:    []domain.Bar{{Time: t0, Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 7}},
		},
		{
			name:    "space separated timestamp",
			content: "time,open,high,low,close,volume\n2024-09-01 00:00:00,1,1,1,1,1\n",
			want:    []domain.Bar{{Time: t0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}},
		},
		{name: "missing column", content: "time,open,high,low,close\n", wantErr: true},
		{name: "bad number", content: "time,open,high,low,close,volume\n1725148800000,x,1,1,1,1\n", wantErr: true},
		{name: "bad time", content: "time,open,high,low,close,volume\nyesterday,1,1,1,1,1\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bars.csv")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			got, err := ReadBarsFromCSV(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTradeRecordsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	records := []domain.TradeRecord{{
		PositionID: 3, Symbol: "ETHUSD", Side: domain.Short, StrategyTag: "20240902", Volume: 0.1,
		EntryPrice: 2500, ExitPrice: 2490.5, EntryTime: t0, CloseTime: t0.Add(time.Hour),
		Profit: 9.5, Outcome: domain.OutcomeSuccess, Reason: domain.CloseReasonTakeProfit,
	}}
	require.NoError(t, WriteTradeRecordsToCSV(records, path))

	got, err := ReadTradeRecordsFromCSV(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestReadTradeRecordsFromCSV_Missing(t *testing.T) {
	_, err := ReadTradeRecordsFromCSV(filepath.Join(t.TempDir(), "none.csv"))
	assert.Error(t, err)
}
