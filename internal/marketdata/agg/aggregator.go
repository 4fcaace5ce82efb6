// Package agg rolls raw ticks into fixed-interval OHLCV candles, one open
// candle per symbol. Candle boundaries come from the exchange trade
// timestamp, not wall time, so replayed data aggregates identically.
package agg

import (
	"context"
	"log"
	"time"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// Aggregator builds candles from ticks. It is driven by a single goroutine
// (Run) and owns all candle state; no locking needed.
type Aggregator struct {
	interval   int64 // ms
	open       map[string]*model.Candle
	candleCh   chan<- model.Candle
	OnLateTick func()
}

// New creates an aggregator emitting completed candles into candleCh.
func New(interval time.Duration, candleCh chan<- model.Candle) *Aggregator {
	return &Aggregator{
		interval: interval.Milliseconds(),
		open:     make(map[string]*model.Candle),
		candleCh: candleCh,
	}
}

// Run consumes ticks until ctx is cancelled or tickCh is closed, then
// flushes any partial candles.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			a.Flush()
			return
		case tick, ok := <-tickCh:
			if !ok {
				a.Flush()
				return
			}
			a.Process(ctx, tick)
		}
	}
}

// Process folds one tick into the open candle for its symbol, emitting the
// previous candle when the tick crosses a bucket boundary.
func (a *Aggregator) Process(ctx context.Context, tick model.Tick) {
	if tick.Price <= 0 {
		log.Printf("[agg] CRITICAL: non-positive price %v for %s, dropping tick", tick.Price, tick.Symbol)
		return
	}

	bucket := (tick.TS / a.interval) * a.interval

	cur, ok := a.open[tick.Symbol]
	if !ok {
		a.open[tick.Symbol] = newCandle(tick, bucket)
		return
	}

	switch {
	case bucket == cur.Start:
		if tick.Price > cur.High {
			cur.High = tick.Price
		}
		if tick.Price < cur.Low {
			cur.Low = tick.Price
		}
		cur.Close = tick.Price
		cur.Volume += tick.Qty
	case bucket > cur.Start:
		a.emit(ctx, *cur)
		a.open[tick.Symbol] = newCandle(tick, bucket)
	default:
		// Tick older than the open bucket. Its candle already shipped,
		// so mutating history would desync every consumer.
		log.Printf("[agg] dropping late tick for %s: ts=%d open bucket=%d", tick.Symbol, tick.TS, cur.Start)
		if a.OnLateTick != nil {
			a.OnLateTick()
		}
	}
}

// Flush emits all partial candles, used at shutdown so the final second of
// data is not lost. Best-effort: the consumer may already have exited, so a
// full queue drops the partial candle instead of blocking shutdown.
func (a *Aggregator) Flush() {
	for sym, c := range a.open {
		select {
		case a.candleCh <- *c:
		default:
			log.Printf("[agg] dropping partial candle for %s at shutdown: queue full", sym)
		}
		delete(a.open, sym)
	}
}

// emit blocks until the candle is accepted downstream. A full candle queue
// stalls aggregation rather than losing candles.
func (a *Aggregator) emit(ctx context.Context, c model.Candle) {
	select {
	case a.candleCh <- c:
	case <-ctx.Done():
	}
}

func newCandle(tick model.Tick, bucket int64) *model.Candle {
	return &model.Candle{
		Symbol: tick.Symbol,
		Start:  bucket,
		Open:   tick.Price,
		High:   tick.Price,
		Low:    tick.Price,
		Close:  tick.Price,
		Volume: tick.Qty,
	}
}
