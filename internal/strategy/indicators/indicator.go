// Package indicators implements the stateless technical indicators used by
// market-state analysis. Every function is pure and deterministic.
package indicators

import (
	"errors"
	"fmt"

	"vwapbot/internal/ports"
)

// ErrUnavailable is returned when an indicator cannot be computed for the
// given window. Callers treat it as a neutral reading.
var ErrUnavailable = errors.New("indicator unavailable")

func insufficient(name string, need, got int) error {
	return fmt.Errorf("%w: %s needs %d bars, got %d: %w", ErrUnavailable, name, need, got, ports.ErrInsufficientHistory)
}
