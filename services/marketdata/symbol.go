package marketdata

import (
	"fmt"
	"strings"

	"stockdash/services"
)

const maxSymbolLength = 16

// NormalizeSymbol trims and upper-cases a ticker and rejects anything that is
// not a plausible exchange symbol.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("symbol is required: %w", services.ErrInvalidInput)
	}
	if len(s) > maxSymbolLength {
		return "", fmt.Errorf("symbol %q is too long: %w", s, services.ErrInvalidInput)
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '^', r == '-':
		default:
			return "", fmt.Errorf("symbol %q contains %q: %w", s, r, services.ErrInvalidInput)
		}
	}
	return s, nil
}

// ParseSymbols splits a comma separated list, normalises each entry and drops duplicates
func ParseSymbols(list string) ([]string, error) {
	seen := make(map[string]bool)
	var symbols []string
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := NormalizeSymbol(part)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required: %w", services.ErrInvalidInput)
	}
	return symbols, nil
}
