package model

// Position side constants.
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// Position represents one open paper position. At most one position exists
// per symbol; reversals close the old side before opening the new one.
type Position struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"` // LONG or SHORT
	EntryPrice float64 `json:"entry_price"`
	Qty        float64 `json:"qty"`
	OpenedTS   int64   `json:"timestamp"` // ms epoch
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// UnrealizedPnL values the position against a mark price using the strict
// form: LONG = (mark-entry)*qty, SHORT = (entry-mark)*qty.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	if p.Side == PositionShort {
		return (p.EntryPrice - mark) * p.Qty
	}
	return (mark - p.EntryPrice) * p.Qty
}

// Portfolio holds the cash balance and all open positions.
type Portfolio struct {
	Balance     float64             `json:"balance"`
	Positions   map[string]Position `json:"positions"`
	RealizedPnL float64             `json:"realized_pnl"`
}

// NewPortfolio creates an empty portfolio with the given starting balance.
func NewPortfolio(balance float64) Portfolio {
	return Portfolio{
		Balance:   balance,
		Positions: make(map[string]Position),
	}
}
