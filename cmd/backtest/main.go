// Backtest replays archived candles through the strategy and execution
// engine to evaluate parameters offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Seemysama/tradingbibot/internal/execution"
	"github.com/Seemysama/tradingbibot/internal/learner"
	"github.com/Seemysama/tradingbibot/internal/model"
	sqlitestore "github.com/Seemysama/tradingbibot/internal/store/sqlite"
	"github.com/Seemysama/tradingbibot/internal/strategy"
)

func main() {
	dbPath := flag.String("db", "data/candles.db", "candle archive path")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to replay")
	limit := flag.Int("limit", 100000, "max candles to replay")
	balance := flag.Float64("balance", 10000, "starting balance")
	mlMin := flag.Int("ml-min-samples", 1000, "ML min training samples (0 disables the filter)")
	flag.Parse()

	log.SetFlags(0)

	archive, err := sqlitestore.NewArchive(*dbPath)
	if err != nil {
		log.Fatalf("open archive: %v", err)
	}
	defer archive.Close()

	candles, err := archive.LoadRecentCandles(context.Background(), *symbol, *limit)
	if err != nil {
		log.Fatalf("load candles: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("no candles for %s in %s", *symbol, *dbPath)
	}
	log.Printf("replaying %d candles for %s", len(candles), *symbol)

	stratCfg := strategy.DefaultConfig()
	var learners map[string]strategy.Learner
	if *mlMin > 0 {
		learners = map[string]strategy.Learner{
			*symbol: learner.New(learner.Config{MinTrainSamples: *mlMin}),
		}
	} else {
		stratCfg.MLEnabled = false
	}

	hybrid := strategy.NewHybrid(stratCfg, learners)

	stateDir, err := os.MkdirTemp("", "backtest-state")
	if err != nil {
		log.Fatalf("temp state dir: %v", err)
	}
	defer os.RemoveAll(stateDir)

	exec, err := execution.NewEngine(execution.Config{
		InitialBalance: *balance,
		RiskPerTrade:   0.01,
		MaxPositionPct: 0.20,
		FeeRate:        0.0004,
		CooldownMS:     3000,
		StatePath:      filepath.Join(stateDir, "state.json"),
	}, nil, nil, nil, nil)
	if err != nil {
		log.Fatalf("execution init: %v", err)
	}

	trades := 0
	hybrid.OnSignal = func(sig model.Signal) {
		trades++
		exec.OnSignal(sig)
	}

	for _, c := range candles {
		exec.UpdateMark(c)
		hybrid.OnCandle(c)
	}

	pf := exec.Portfolio()
	last := candles[len(candles)-1]
	snap := exec.PnLSnapshot(last.Start)

	fmt.Println("---- backtest summary ----")
	fmt.Printf("symbol:          %s\n", *symbol)
	fmt.Printf("candles:         %d\n", len(candles))
	fmt.Printf("signals:         %d\n", trades)
	fmt.Printf("open positions:  %d\n", len(pf.Positions))
	fmt.Printf("final balance:   %.2f\n", pf.Balance)
	fmt.Printf("final equity:    %.2f\n", snap.Equity)
	fmt.Printf("realized pnl:    %.2f\n", pf.RealizedPnL)
	fmt.Printf("return:          %.2f%%\n", (snap.Equity-*balance)/(*balance)*100)
}
