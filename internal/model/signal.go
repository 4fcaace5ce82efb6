package model

// Signal side constants. Distinct from tick sides: these are order intents.
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
)

// Signal represents a trading intent emitted by the strategy or injected
// manually through the control plane. ID is unique per signal and is the
// key for duplicate suppression in the execution engine.
type Signal struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // BUY or SELL
	Price      float64 `json:"price"`
	TS         int64   `json:"timestamp"` // ms epoch
	Reason     string  `json:"reason"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}
