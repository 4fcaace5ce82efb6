package agg

import (
	"context"
	"testing"
	"time"

	"github.com/Seemysama/tradingbibot/internal/model"
)

func tk(sym string, price, qty float64, ts int64) model.Tick {
	return model.Tick{Symbol: sym, Price: price, Qty: qty, Side: model.SideBuy, TS: ts}
}

func TestAggregatorBasicOHLCV(t *testing.T) {
	ch := make(chan model.Candle, 4)
	a := New(time.Second, ch)
	ctx := context.Background()

	base := int64(1700000000000)
	a.Process(ctx, tk("BTCUSDT", 100, 1, base+100))
	a.Process(ctx, tk("BTCUSDT", 105, 2, base+300))
	a.Process(ctx, tk("BTCUSDT", 95, 1, base+600))
	a.Process(ctx, tk("BTCUSDT", 102, 0.5, base+900))
	// Next bucket closes the first candle.
	a.Process(ctx, tk("BTCUSDT", 103, 1, base+1000))

	select {
	case c := <-ch:
		if c.Start != base {
			t.Errorf("start = %d, want %d", c.Start, base)
		}
		if c.Open != 100 || c.High != 105 || c.Low != 95 || c.Close != 102 {
			t.Errorf("OHLC = %v/%v/%v/%v, want 100/105/95/102", c.Open, c.High, c.Low, c.Close)
		}
		if c.Volume != 4.5 {
			t.Errorf("volume = %v, want 4.5", c.Volume)
		}
		if !c.Valid() {
			t.Errorf("candle invariant violated: %+v", c)
		}
	default:
		t.Fatal("no candle emitted")
	}
}

func TestAggregatorBoundaryTickOpensNewBucket(t *testing.T) {
	ch := make(chan model.Candle, 4)
	a := New(time.Second, ch)
	ctx := context.Background()

	base := int64(1700000000000)
	a.Process(ctx, tk("BTCUSDT", 100, 1, base+999))
	// Exactly on the boundary belongs to the next candle.
	a.Process(ctx, tk("BTCUSDT", 101, 1, base+1000))

	c := <-ch
	if c.Start != base || c.Close != 100 {
		t.Errorf("first candle start=%d close=%v, want %d/100", c.Start, c.Close, base)
	}
	a.Flush()
	c = <-ch
	if c.Start != base+1000 || c.Open != 101 {
		t.Errorf("second candle start=%d open=%v, want %d/101", c.Start, c.Open, base+1000)
	}
}

func TestAggregatorMultiSymbol(t *testing.T) {
	ch := make(chan model.Candle, 4)
	a := New(time.Second, ch)
	ctx := context.Background()

	base := int64(1700000000000)
	a.Process(ctx, tk("BTCUSDT", 100, 1, base+100))
	a.Process(ctx, tk("ETHUSDT", 50, 2, base+200))
	a.Process(ctx, tk("BTCUSDT", 101, 1, base+1100))

	c := <-ch
	if c.Symbol != "BTCUSDT" || c.Close != 100 {
		t.Errorf("emitted %s close=%v, want BTCUSDT/100", c.Symbol, c.Close)
	}
	select {
	case c := <-ch:
		t.Errorf("unexpected extra candle: %+v", c)
	default:
	}
}

func TestAggregatorDropsLateTick(t *testing.T) {
	ch := make(chan model.Candle, 4)
	a := New(time.Second, ch)
	ctx := context.Background()

	late := 0
	a.OnLateTick = func() { late++ }

	base := int64(1700000000000)
	a.Process(ctx, tk("BTCUSDT", 100, 1, base+100))
	a.Process(ctx, tk("BTCUSDT", 101, 1, base+1100))
	// Belongs to the already-emitted bucket.
	a.Process(ctx, tk("BTCUSDT", 999, 1, base+500))

	if late != 1 {
		t.Errorf("late tick count = %d, want 1", late)
	}

	c := <-ch
	if c.High == 999 {
		t.Error("late tick mutated emitted candle")
	}
	a.Flush()
	c = <-ch
	if c.High == 999 || c.Close != 101 {
		t.Errorf("late tick leaked into open candle: %+v", c)
	}
}

func TestAggregatorDropsBadPrice(t *testing.T) {
	ch := make(chan model.Candle, 4)
	a := New(time.Second, ch)
	ctx := context.Background()

	a.Process(ctx, tk("BTCUSDT", 0, 1, 1700000000100))
	a.Process(ctx, tk("BTCUSDT", -5, 1, 1700000000200))
	a.Flush()

	select {
	case c := <-ch:
		t.Errorf("candle built from invalid ticks: %+v", c)
	default:
	}
}

func TestAggregatorFlushOnCancel(t *testing.T) {
	tickCh := make(chan model.Tick, 4)
	candleCh := make(chan model.Candle, 4)
	a := New(time.Second, candleCh)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh)
		close(done)
	}()

	tickCh <- tk("BTCUSDT", 100, 1, 1700000000100)
	// Let the goroutine consume it before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	select {
	case c := <-candleCh:
		if c.Close != 100 {
			t.Errorf("flushed candle close = %v, want 100", c.Close)
		}
	default:
		t.Fatal("partial candle not flushed on shutdown")
	}
}

func TestFlushDoesNotBlockOnFullQueue(t *testing.T) {
	ch := make(chan model.Candle, 1)
	a := New(time.Second, ch)
	ctx := context.Background()

	base := int64(1700000000000)
	a.Process(ctx, tk("BTCUSDT", 100, 1, base+100))
	a.Process(ctx, tk("ETHUSDT", 200, 1, base+100))

	// Nobody is draining the queue: one partial fits, the other must be
	// dropped instead of hanging shutdown.
	done := make(chan struct{})
	go func() {
		a.Flush()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush blocked on a full candle queue")
	}
	if len(ch) != 1 {
		t.Errorf("flushed candles = %d, want 1", len(ch))
	}
	if len(a.open) != 0 {
		t.Errorf("open candles not cleared: %d", len(a.open))
	}
}
