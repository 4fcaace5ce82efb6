// Package exchange abstracts the trading venue. The engine currently ships
// a single paper adapter; the interface keeps symbol validation and market
// listing out of the execution engine.
package exchange

import (
	"fmt"
	"strings"
)

// Adapter describes a trading venue.
type Adapter interface {
	// Name identifies the adapter for health reporting.
	Name() string

	// ValidateSymbol rejects symbols the venue does not list.
	ValidateSymbol(symbol string) error

	// ListMarkets returns the tradable symbols.
	ListMarkets() []string
}

// Paper is the simulated venue: it lists whatever symbols the engine was
// configured with.
type Paper struct {
	symbols map[string]bool
	list    []string
}

// NewPaper creates a paper adapter listing the given symbols.
func NewPaper(symbols []string) *Paper {
	p := &Paper{symbols: make(map[string]bool, len(symbols))}
	for _, s := range symbols {
		s = strings.ToUpper(s)
		if !p.symbols[s] {
			p.symbols[s] = true
			p.list = append(p.list, s)
		}
	}
	return p
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) ValidateSymbol(symbol string) error {
	if !p.symbols[strings.ToUpper(symbol)] {
		return fmt.Errorf("symbol %s not configured", symbol)
	}
	return nil
}

func (p *Paper) ListMarkets() []string {
	out := make([]string, len(p.list))
	copy(out, p.list)
	return out
}
