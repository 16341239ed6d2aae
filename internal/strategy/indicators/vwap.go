package indicators

import (
	"fmt"
	"math"

	"vwapbot/internal/domain"
)

// VWAP returns the cumulative volume-weighted average of the typical price,
// one value per bar of the window. Leading bars with zero cumulative volume
// are NaN. It fails with ErrUnavailable when the window is empty or the
// cumulative volume is still zero at the last bar.
func VWAP(window domain.BarWindow) ([]float64, error) {
	if len(window) == 0 {
		return nil, insufficient("VWAP", 1, 0)
	}
	out := make([]float64, len(window))
	var cumPV, cumVol float64
	for i, b := range window {
		cumPV += b.TypicalPrice() * b.Volume
		cumVol += b.Volume
		if cumVol <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = cumPV / cumVol
	}
	if last := len(out) - 1; math.IsNaN(out[last]) {
		return nil, fmt.Errorf("%w: zero cumulative volume at index %d", ErrUnavailable, last)
	}
	return out, nil
}

// Bands is the latest VWAP with its volume-weighted deviation bands.
type Bands struct {
	VWAP   float64
	SD     float64
	Upper1 float64
	Upper2 float64
	Lower1 float64
	Lower2 float64
}

// VWAPBands computes the volume-weighted standard deviation of the typical
// price around the running VWAP, using the same cumulative weighting, and
// returns the ±1σ and ±2σ bands at the last bar. At least two bars are
// required.
func VWAPBands(window domain.BarWindow) (Bands, error) {
	if len(window) < 2 {
		return Bands{}, insufficient("VWAPBands", 2, len(window))
	}
	vwap, err := VWAP(window)
	if err != nil {
		return Bands{}, err
	}
	var cumDev, cumVol float64
	for i, b := range window {
		if math.IsNaN(vwap[i]) {
			continue
		}
		d := b.TypicalPrice() - vwap[i]
		cumDev += d * d * b.Volume
		cumVol += b.Volume
	}
	sd := math.Sqrt(cumDev / cumVol)
	last := vwap[len(vwap)-1]
	return Bands{
		VWAP:   last,
		SD:     sd,
		Upper1: last + sd,
		Upper2: last + 2*sd,
		Lower1: last - sd,
		Lower2: last - 2*sd,
	}, nil
}
