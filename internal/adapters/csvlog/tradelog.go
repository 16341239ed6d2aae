// Package csvlog is an append-only CSV trade log.
package csvlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// Header is the first row of every trade log file.
var Header = []string{"Timestamp", "Action", "Ticket", "Symbol", "Side", "Volume", "Price", "SL", "TP", "Comment", "Status", "Details"}

// TimeLayout is the timestamp format of the Timestamp column.
const TimeLayout = "2006-01-02 15:04:05"

// TradeLog appends trade events to a CSV file. Safe for concurrent use.
type TradeLog struct {
	path string
	mu   sync.Mutex
}

// New opens path, creating it with the header row when it does not exist.
func New(path string) (*TradeLog, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty trade log path", ports.ErrConfigurationError)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create trade log dir: %w", err)
		}
		f, err := os.Create(abs)
		if err != nil {
			return nil, fmt.Errorf("create trade log: %w", err)
		}
		w := csv.NewWriter(f)
		_ = w.Write(Header)
		w.Flush()
		werr := w.Error()
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return nil, fmt.Errorf("write trade log header: %w", werr)
		}
	}
	return &TradeLog{path: abs}, nil
}

// Path returns the absolute file path.
func (t *TradeLog) Path() string { return t.path }

// Record implements ports.TradeLog.
func (t *TradeLog) Record(ctx context.Context, e domain.TradeEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trade log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(toRow(e)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// LastN returns the newest n events in file order.
func (t *TradeLog) LastN(n int) ([]domain.TradeEvent, error) {
	if n <= 0 {
		n = 10
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read trade log: %w", err)
	}
	var out []domain.TradeEvent
	for i := 1; i < len(rows); i++ {
		e, err := fromRow(rows[i])
		if err != nil {
			return nil, fmt.Errorf("trade log row %d: %w", i+1, err)
		}
		out = append(out, e)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func toRow(e domain.TradeEvent) []string {
	return []string{
		e.Timestamp.UTC().Format(TimeLayout),
		string(e.Action),
		strconv.FormatInt(e.Ticket, 10),
		e.Symbol,
		string(e.Side),
		formatF(e.Volume),
		formatF(e.Price),
		formatF(e.SL),
		formatF(e.TP),
		e.Comment,
		string(e.Status),
		e.Details,
	}
}

func fromRow(rec []string) (domain.TradeEvent, error) {
	ts, err := time.Parse(TimeLayout, rec[0])
	if err != nil {
		return domain.TradeEvent{}, err
	}
	ticket, err := strconv.ParseInt(rec[2], 10, 64)
	if err != nil {
		return domain.TradeEvent{}, err
	}
	var nums [4]float64
	for i, col := range []int{5, 6, 7, 8} {
		if nums[i], err = strconv.ParseFloat(rec[col], 64); err != nil {
			return domain.TradeEvent{}, err
		}
	}
	return domain.TradeEvent{
		Timestamp: ts,
		Action:    domain.TradeAction(rec[1]),
		Ticket:    ticket,
		Symbol:    rec[3],
		Side:      domain.Side(rec[4]),
		Volume:    nums[0],
		Price:     nums[1],
		SL:        nums[2],
		TP:        nums[3],
		Comment:   rec[9],
		Status:    domain.TradeStatus(rec[10]),
		Details:   rec[11],
	}, nil
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

var _ ports.TradeLog = (*TradeLog)(nil)
