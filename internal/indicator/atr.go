package indicator

import (
	"fmt"
	"math"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// ATR calculates Average True Range as a rolling mean of the last period
// true ranges. The first candle has no previous close, so its true range is
// simply high minus low.
type ATR struct {
	period    int
	buf       []float64
	idx       int
	count     int
	sum       float64
	prevClose float64
	current   float64
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{
		period: period,
		buf:    make([]float64, period),
	}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR_%d", a.period) }

func (a *ATR) Update(candle model.Candle) {
	tr := candle.High - candle.Low
	if a.count > 0 {
		tr = math.Max(tr, math.Max(
			math.Abs(candle.High-a.prevClose),
			math.Abs(candle.Low-a.prevClose),
		))
	}
	a.prevClose = candle.Close

	if a.count >= a.period {
		a.sum -= a.buf[a.idx]
	}
	a.buf[a.idx] = tr
	a.sum += tr
	a.idx = (a.idx + 1) % a.period
	a.count++

	if a.count >= a.period {
		a.current = a.sum / float64(a.period)
	}
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }
