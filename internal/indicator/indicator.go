// Package indicator provides technical indicator calculations over candle
// data. All indicators update in O(1) per candle with no history scans.
package indicator

import "github.com/Seemysama/tradingbibot/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "ATR_14").
	Name() string

	// Update feeds a new completed candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
