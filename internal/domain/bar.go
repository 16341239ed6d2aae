package domain

import "time"

// Bar represents a single OHLCV candlestick.
type Bar struct {
	Time   time.Time // Open time of the interval
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// TypicalPrice returns (high+low+close)/3.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// BarWindow is a read-only run of consecutive bars, oldest first.
// A window may be shorter than requested; it is never padded.
type BarWindow []Bar

// Last returns the newest bar of the window.
func (w BarWindow) Last() (Bar, bool) {
	if len(w) == 0 {
		return Bar{}, false
	}
	return w[len(w)-1], true
}
