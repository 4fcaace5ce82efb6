package model

// Trade side constants for ticks. The exchange reports buyer-is-maker; a
// maker buyer means an aggressive sell hit the book, so that tick is "sell".
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Tick represents a single normalized aggregated trade from the exchange
// WebSocket. Prices and quantities are float64 in quote/base units.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
	Side   string  `json:"side"` // "buy" or "sell"
	TS     int64   `json:"ts"`   // event time, ms epoch
}
