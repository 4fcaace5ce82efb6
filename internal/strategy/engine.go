package strategy

import (
	"context"
	"log"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// Engine drives the hybrid strategy from the candle queue and forwards
// signals to the execution queue. Signal sends block: losing a signal is
// worse than a briefly stalled strategy loop.
type Engine struct {
	hybrid *Hybrid
	execCh chan<- model.Signal
}

// NewEngine wires a hybrid strategy to the execution queue.
func NewEngine(h *Hybrid, execCh chan<- model.Signal) *Engine {
	return &Engine{hybrid: h, execCh: execCh}
}

// Run consumes candles until ctx is cancelled or candleCh is closed.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			sig := e.hybrid.OnCandle(candle)
			if sig == nil {
				continue
			}
			log.Printf("[strategy] %s %s @ %.4f sl=%.4f tp=%.4f (%s)",
				sig.Side, sig.Symbol, sig.Price, sig.StopLoss, sig.TakeProfit, sig.Reason)
			select {
			case e.execCh <- *sig:
			case <-ctx.Done():
				return
			}
		}
	}
}
