package indicator

import (
	"fmt"
	"math"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// ADX calculates the Average Directional Index using Wilder's exponential
// smoothing (alpha = 1/period) on the true range and the directional
// movements. Each smoother is seeded with its first sample. The DX series
// is smoothed the same way to produce ADX.
type ADX struct {
	period int
	count  int

	prevHigh  float64
	prevLow   float64
	prevClose float64

	smTR     float64
	smPlus   float64
	smMinus  float64
	adx      float64
	dxSeeded bool
}

// NewADX creates a new ADX indicator with the given period (typically 14).
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) Name() string { return fmt.Sprintf("ADX_%d", a.period) }

func (a *ADX) Update(candle model.Candle) {
	a.count++
	if a.count == 1 {
		a.prevHigh = candle.High
		a.prevLow = candle.Low
		a.prevClose = candle.Close
		return
	}

	tr := math.Max(candle.High-candle.Low, math.Max(
		math.Abs(candle.High-a.prevClose),
		math.Abs(candle.Low-a.prevClose),
	))

	upMove := candle.High - a.prevHigh
	downMove := a.prevLow - candle.Low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	a.prevHigh = candle.High
	a.prevLow = candle.Low
	a.prevClose = candle.Close

	alpha := 1.0 / float64(a.period)
	if a.count == 2 {
		// Seed each smoother with its first sample
		a.smTR = tr
		a.smPlus = plusDM
		a.smMinus = minusDM
	} else {
		a.smTR += alpha * (tr - a.smTR)
		a.smPlus += alpha * (plusDM - a.smPlus)
		a.smMinus += alpha * (minusDM - a.smMinus)
	}

	if a.smTR == 0 {
		return
	}
	plusDI := 100.0 * a.smPlus / a.smTR
	minusDI := 100.0 * a.smMinus / a.smTR

	diSum := plusDI + minusDI
	if diSum == 0 {
		return
	}
	dx := 100.0 * math.Abs(plusDI-minusDI) / diSum

	if !a.dxSeeded {
		a.adx = dx
		a.dxSeeded = true
	} else {
		a.adx += alpha * (dx - a.adx)
	}
}

func (a *ADX) Value() float64 { return a.adx }

// Ready requires enough candles for both smoothing stages to settle.
func (a *ADX) Ready() bool { return a.count > 2*a.period }
