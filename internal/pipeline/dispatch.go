// Package pipeline wires the stage boundaries: ticks fan out to persistence
// and aggregation, candles fan out to persistence and the strategy. Each
// dispatcher runs in its own goroutine and applies backpressure by blocking
// on its downstream queues.
package pipeline

import (
	"context"
	"log"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// TickSink receives every tick, typically the ILP persistence writer.
type TickSink interface {
	WriteTick(tick model.Tick)
}

// CandleSink receives every completed candle.
type CandleSink interface {
	WriteCandle(candle model.Candle)
}

// Broadcaster pushes events to connected UI clients. Implementations must
// not block; publishing happens fire-and-forget.
type Broadcaster interface {
	Publish(event any)
}

// TickDispatcher fans ticks out to persistence, aggregation and sampled
// ticker broadcast.
type TickDispatcher struct {
	sink        TickSink
	aggCh       chan<- model.Tick
	broadcaster Broadcaster
	sampleEvery int
	count       map[string]int
}

// NewTickDispatcher creates a dispatcher. sink and broadcaster may be nil.
// sampleEvery <= 0 disables ticker broadcast.
func NewTickDispatcher(sink TickSink, aggCh chan<- model.Tick, b Broadcaster, sampleEvery int) *TickDispatcher {
	return &TickDispatcher{
		sink:        sink,
		aggCh:       aggCh,
		broadcaster: b,
		sampleEvery: sampleEvery,
		count:       make(map[string]int),
	}
}

// Run consumes ticks until ctx is cancelled or tickCh is closed.
func (d *TickDispatcher) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			d.Dispatch(ctx, tick)
		}
	}
}

// Dispatch routes one tick. Persistence first so no tick reaches the
// aggregator without having been offered to the sink.
func (d *TickDispatcher) Dispatch(ctx context.Context, tick model.Tick) {
	if d.sink != nil {
		d.sink.WriteTick(tick)
	}

	select {
	case d.aggCh <- tick:
	case <-ctx.Done():
		return
	}

	if d.broadcaster != nil && d.sampleEvery > 0 {
		d.count[tick.Symbol]++
		if d.count[tick.Symbol]%d.sampleEvery == 0 {
			d.broadcaster.Publish(TickerEvent{
				Type:   "ticker",
				Symbol: tick.Symbol,
				Price:  tick.Price,
				TS:     tick.TS,
			})
		}
	}
}

// TickerEvent is the sampled price update pushed to UI clients.
type TickerEvent struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TS     int64   `json:"timestamp"`
}

// CandleHandler observes completed candles in dispatch order, e.g. the
// execution engine updating mark prices.
type CandleHandler func(candle model.Candle)

// CandleDispatcher fans completed candles out to persistence, the strategy
// queue and any registered handlers.
type CandleDispatcher struct {
	sink       CandleSink
	strategyCh chan<- model.Candle
	handlers   []CandleHandler
}

// NewCandleDispatcher creates a dispatcher. sink may be nil.
func NewCandleDispatcher(sink CandleSink, strategyCh chan<- model.Candle, handlers ...CandleHandler) *CandleDispatcher {
	return &CandleDispatcher{
		sink:       sink,
		strategyCh: strategyCh,
		handlers:   handlers,
	}
}

// Run consumes candles until ctx is cancelled or candleCh is closed.
func (d *CandleDispatcher) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			d.Dispatch(ctx, candle)
		}
	}
}

// Dispatch routes one candle to every consumer.
func (d *CandleDispatcher) Dispatch(ctx context.Context, candle model.Candle) {
	if !candle.Valid() {
		log.Printf("[pipeline] dropping invalid candle %s start=%d", candle.Symbol, candle.Start)
		return
	}

	if d.sink != nil {
		d.sink.WriteCandle(candle)
	}
	for _, h := range d.handlers {
		h(candle)
	}

	select {
	case d.strategyCh <- candle:
	case <-ctx.Done():
	}
}
