// Package series holds the append-only bar sequence that replay and live
// processing read trailing windows from.
package series

import (
	"context"
	"fmt"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// Series is an append-only ordered sequence of bars with a movable cursor.
// Bars are never modified after Append; timestamps are strictly increasing.
// Gaps in time are passed through untouched.
type Series struct {
	symbol    string
	timeframe string
	bars      []domain.Bar
	cursor    int
}

// New creates an empty series. The cursor starts before the first bar.
func New(symbol, timeframe string) *Series {
	return &Series{symbol: symbol, timeframe: timeframe, cursor: -1}
}

// FromBars builds a series from bars that must already be in strictly
// increasing time order.
func FromBars(symbol, timeframe string, bars []domain.Bar) (*Series, error) {
	s := New(symbol, timeframe)
	for i, b := range bars {
		if err := s.Append(b); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
	}
	return s, nil
}

// Append adds a bar to the end of the series.
func (s *Series) Append(b domain.Bar) error {
	if n := len(s.bars); n > 0 && !b.Time.After(s.bars[n-1].Time) {
		return fmt.Errorf("%w: bar time %s not after %s", ports.ErrInvalidRequest,
			b.Time.Format("2006-01-02 15:04:05"), s.bars[n-1].Time.Format("2006-01-02 15:04:05"))
	}
	s.bars = append(s.bars, b)
	return nil
}

func (s *Series) Symbol() string    { return s.symbol }
func (s *Series) Timeframe() string { return s.timeframe }
func (s *Series) Len() int          { return len(s.bars) }

// Cursor returns the index of the current bar, -1 before the first Advance.
func (s *Series) Cursor() int { return s.cursor }

// Advance moves the cursor to the next bar. It returns false once the
// cursor is on the last bar.
func (s *Series) Advance() bool {
	if s.cursor+1 >= len(s.bars) {
		return false
	}
	s.cursor++
	return true
}

// Current returns the bar under the cursor.
func (s *Series) Current() (domain.Bar, bool) {
	return s.At(s.cursor)
}

// At returns the bar at index i.
func (s *Series) At(i int) (domain.Bar, bool) {
	if i < 0 || i >= len(s.bars) {
		return domain.Bar{}, false
	}
	return s.bars[i], true
}

// Window returns up to count bars ending at index end (inclusive). The
// window is short when less history exists and empty when end < 0 or
// count < 1. The returned slice must not be modified.
func (s *Series) Window(end, count int) domain.BarWindow {
	if count < 1 || end < 0 || len(s.bars) == 0 {
		return nil
	}
	if end >= len(s.bars) {
		end = len(s.bars) - 1
	}
	start := end - count + 1
	if start < 0 {
		start = 0
	}
	return domain.BarWindow(s.bars[start : end+1 : end+1])
}

// View returns a BarSource that sees only bars up to and including index end.
func (s *Series) View(end int) *View {
	return &View{series: s, end: end}
}

// View is a fixed-end read view of a series. It hands the "current bar" to
// consumers explicitly instead of through shared state.
type View struct {
	series *Series
	end    int
}

// End returns the index of the newest bar visible through the view.
func (v *View) End() int { return v.end }

// GetBars implements ports.BarSource. Symbol and timeframe must match the series.
func (v *View) GetBars(_ context.Context, symbol, timeframe string, count int) ([]domain.Bar, error) {
	if symbol != v.series.symbol || (timeframe != "" && timeframe != v.series.timeframe) {
		return nil, nil
	}
	return v.series.Window(v.end, count), nil
}

var _ ports.BarSource = (*View)(nil)
