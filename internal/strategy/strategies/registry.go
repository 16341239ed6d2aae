package strategies

import (
	"fmt"
	"strconv"

	"vwapbot/internal/ports"
)

// Registered strategy names.
const (
	NameVWAPBounce = "vwap_bounce"
	NameVWAPTouch  = "vwap_touch"
)

// factory builds a strategy from its position tag.
type factory struct {
	magicOffset int
	build       func(tag string, logger ports.Logger) ports.Strategy
}

var registry = map[string]factory{
	NameVWAPBounce: {magicOffset: 1, build: func(tag string, l ports.Logger) ports.Strategy { return NewVWAPBounce(tag, l) }},
	NameVWAPTouch:  {magicOffset: 2, build: func(tag string, l ports.Logger) ports.Strategy { return NewVWAPTouch(tag, l) }},
}

// Names returns the registered strategy names in their canonical order.
func Names() []string {
	return []string{NameVWAPBounce, NameVWAPTouch}
}

// Build assembles the strategies named in names, in that order. Each
// strategy's tag is magicBase plus its fixed offset. Unknown or repeated
// names are configuration errors.
func Build(names []string, magicBase int, logger ports.Logger) ([]ports.Strategy, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no strategies configured", ports.ErrConfigurationError)
	}
	seen := make(map[string]bool, len(names))
	out := make([]ports.Strategy, 0, len(names))
	for _, name := range names {
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown strategy %q", ports.ErrConfigurationError, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: strategy %q listed twice", ports.ErrConfigurationError, name)
		}
		seen[name] = true
		out = append(out, f.build(strconv.Itoa(magicBase+f.magicOffset), logger))
	}
	return out, nil
}
