package csvlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwapbot/internal/domain"
)

func TestTradeLog_RecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trades.csv")
	tl, err := New(path)
	require.NoError(t, err)

	ts := time.Date(2024, 9, 1, 10, 30, 0, 0, time.UTC)
	place := domain.TradeEvent{
		Timestamp: ts, Action: domain.ActionPlace, Ticket: 12, Symbol: "BTCUSD", Side: domain.Long,
		Volume: 0.1, Price: 105, SL: 95, TP: 106, Comment: "VWAP_BOUNCE_BUY", Status: domain.StatusSuccess,
	}
	closed := domain.TradeEvent{
		Timestamp: ts.Add(5 * time.Minute), Action: domain.ActionClose, Ticket: 12, Symbol: "BTCUSD", Side: domain.Long,
		Volume: 0.1, Price: 106.5, Comment: "VWAP_BOUNCE_BUY", Status: domain.StatusClosed, Details: "TP Hit, with comma",
	}
	require.NoError(t, tl.Record(context.Background(), place))
	require.NoError(t, tl.Record(context.Background(), closed))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Timestamp,Action,Ticket,Symbol,Side,Volume,Price,SL,TP,Comment,Status,Details", lines[0])
	assert.Equal(t, "2024-09-01 10:30:00,PLACE,12,BTCUSD,LONG,0.1,105,95,106,VWAP_BOUNCE_BUY,SUCCESS,", lines[1])

	events, err := tl.LastN(10)
	require.NoError(t, err)
	assert.Equal(t, []domain.TradeEvent{place, closed}, events)

	last, err := tl.LastN(1)
	require.NoError(t, err)
	assert.Equal(t, []domain.TradeEvent{closed}, last)
}

func TestTradeLog_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	tl, err := New(path)
	require.NoError(t, err)
	require.NoError(t, tl.Record(context.Background(), domain.TradeEvent{Action: domain.ActionPlace, Ticket: 1, Timestamp: time.Unix(0, 0)}))

	again, err := New(path)
	require.NoError(t, err)
	events, err := again.LastN(5)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTradeLog_ConcurrentAppends(t *testing.T) {
	tl, err := New(filepath.Join(t.TempDir(), "trades.csv"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = tl.Record(context.Background(), domain.TradeEvent{Action: domain.ActionPlace, Ticket: int64(i), Timestamp: time.Unix(0, 0)})
		}(i)
	}
	wg.Wait()

	events, err := tl.LastN(100)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
