package indicators

import (
	"math"

	"vwapbot/internal/domain"
)

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per
// bar. The first bar has no previous close and uses high-low.
func TrueRange(window domain.BarWindow) []float64 {
	tr := make([]float64, len(window))
	for i, b := range window {
		tr[i] = b.High - b.Low
		if i == 0 {
			continue
		}
		prevClose := window[i-1].Close
		tr[i] = math.Max(tr[i], math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
	}
	return tr
}

// ATR smooths the true range with an exponential moving average of
// alpha = 2/(period+1), seeded with the first true range. This is span
// weighting, not Wilder's smoothing.
func ATR(window domain.BarWindow, period int) ([]float64, error) {
	if period < 1 {
		return nil, insufficient("ATR", 1, 0)
	}
	if len(window) == 0 {
		return nil, insufficient("ATR", 1, 0)
	}
	tr := TrueRange(window)
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(tr))
	out[0] = tr[0]
	for i := 1; i < len(tr); i++ {
		out[i] = alpha*tr[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// ATRZScore measures the latest ATR against the mean and sample standard
// deviation of the zPeriod ATR values before it. The current value is kept
// out of the reference set. Returns 0 when fewer than zPeriod+1 ATR values
// exist or the reference deviation is zero.
func ATRZScore(window domain.BarWindow, atrPeriod, zPeriod int) float64 {
	if zPeriod < 2 {
		return 0
	}
	atr, err := ATR(window, atrPeriod)
	if err != nil || len(atr) < zPeriod+1 {
		return 0
	}
	current := atr[len(atr)-1]
	ref := atr[len(atr)-1-zPeriod : len(atr)-1]

	var sum float64
	for _, v := range ref {
		sum += v
	}
	mean := sum / float64(len(ref))
	var ss float64
	for _, v := range ref {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(ref)-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (current - mean) / std
}
