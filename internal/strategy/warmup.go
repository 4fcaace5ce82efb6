package strategy

import (
	"context"
	"fmt"
	"log"

	"github.com/Seemysama/tradingbibot/internal/model"
)

// CandleSource loads recent historical candles for warmup, oldest first.
type CandleSource interface {
	LoadRecentCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error)
}

// Warmup replays historical candles through the strategy so indicators and
// learners reach live-equivalent state before the first real candle. The
// replay runs in backtest mode: no signals escape.
func Warmup(ctx context.Context, h *Hybrid, src CandleSource, symbols []string, limit int) error {
	wasBacktest := h.Backtest
	h.Backtest = true
	defer func() { h.Backtest = wasBacktest }()

	for _, sym := range symbols {
		candles, err := src.LoadRecentCandles(ctx, sym, limit)
		if err != nil {
			return fmt.Errorf("warmup %s: %w", sym, err)
		}
		for _, c := range candles {
			h.OnCandle(c)
		}
		log.Printf("[strategy] warmed up %s with %d candles", sym, len(candles))
	}
	return nil
}
