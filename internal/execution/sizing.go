package execution

import (
	"math"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// Substitute stop distance when a signal carries no usable stop: 2% away
// from entry on the adverse side.
const (
	fallbackStopBuy  = 0.98
	fallbackStopSell = 1.02
)

// PositionSize computes order quantity as the minimum of the risk-based
// size and the exposure cap, floored to the exchange step size.
//
//	qty_risk = balance * riskPerTrade / |entry - stop|
//	qty_cap  = balance * maxPositionPct / entry
func PositionSize(balance, entry, stop float64, side string, riskPerTrade, maxPositionPct, step float64) float64 {
	if entry <= 0 || balance <= 0 {
		return 0
	}

	if stop <= 0 {
		if side == model.SignalBuy {
			stop = entry * fallbackStopBuy
		} else {
			stop = entry * fallbackStopSell
		}
	}

	dist := math.Abs(entry - stop)
	if dist <= 0 {
		return 0
	}

	qtyRisk := balance * riskPerTrade / dist
	qtyCap := balance * maxPositionPct / entry

	qty := math.Min(qtyRisk, qtyCap)
	return RoundStep(qty, step)
}

// RoundStep floors qty to a multiple of step. Flooring keeps the order
// inside both the risk and exposure limits.
func RoundStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	// Nudge before flooring so exact multiples survive binary rounding
	// (1.0/0.001 lands fractionally under 1000 in float64).
	return math.Floor(qty/step+1e-9) * step
}
