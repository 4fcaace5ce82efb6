package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Seemysama/tradingbibot/config"
	"github.com/Seemysama/tradingbibot/internal/control"
	"github.com/Seemysama/tradingbibot/internal/exchange"
	"github.com/Seemysama/tradingbibot/internal/execution"
	"github.com/Seemysama/tradingbibot/internal/learner"
	"github.com/Seemysama/tradingbibot/internal/logger"
	"github.com/Seemysama/tradingbibot/internal/marketdata/agg"
	"github.com/Seemysama/tradingbibot/internal/marketdata/ws"
	"github.com/Seemysama/tradingbibot/internal/metrics"
	"github.com/Seemysama/tradingbibot/internal/model"
	"github.com/Seemysama/tradingbibot/internal/pipeline"
	"github.com/Seemysama/tradingbibot/internal/risk"
	"github.com/Seemysama/tradingbibot/internal/strategy"
	"github.com/Seemysama/tradingbibot/internal/store/questdb"
	sqlitestore "github.com/Seemysama/tradingbibot/internal/store/sqlite"
)

const (
	tickQueueSize   = 5000
	candleQueueSize = 1000
	execQueueSize   = 300

	pnlBroadcastEvery    = 5 * time.Second
	checkpointSaveEvery  = 5 * time.Minute
	saturationSampleRate = 5 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	slogger := logger.Init("engine", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := config.Load()
	slogger.Info("starting", slog.Any("symbols", cfg.Symbols), slog.String("api", cfg.APIAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	prom := metrics.New()
	guard := risk.NewGuard()
	adapter := exchange.NewPaper(cfg.Symbols)

	// ---- Pipeline channels ----
	tickCh := make(chan model.Tick, tickQueueSize)
	candleCh := make(chan model.Candle, candleQueueSize)
	strategyCh := make(chan model.Candle, candleQueueSize)
	execCh := make(chan model.Signal, execQueueSize)

	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[engine] trade journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Control plane ----
	hub := control.NewHub()
	server := control.NewServer(control.ServerConfig{
		Addr:       cfg.APIAddr,
		TOTPSecret: cfg.PanicTOTPSecret,
		Adapters:   []string{adapter.Name()},
		Symbols:    cfg.Symbols,
		Validator:  adapter,
		Trades:     journal,
	}, hub, guard, execCh, prom.Handler())
	go func() {
		if err := server.Run(ctx); err != nil {
			log.Printf("[engine] control server stopped: %v", err)
		}
	}()

	// Events reach the hub through the broadcast endpoint, so external
	// producers and our own pipeline share one path.
	poster := control.NewPoster(cfg.APIURL)

	// ---- Persistence ----
	ilp := questdb.NewWriter(cfg.QuestDBHost, cfg.QuestDBPort)
	defer ilp.Close()
	ilp.OnWrite = func(d time.Duration, ok bool) {
		prom.ILPWriteDur.Observe(d.Seconds())
	}

	archive, err := sqlitestore.NewArchive(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[engine] sqlite archive init failed: %v", err)
	}
	defer archive.Close()
	go archive.Run(ctx)

	// ---- Learners (optional checkpoint restore from Redis) ----
	var ckpt *learner.CheckpointStore
	if cfg.RedisAddr != "" {
		ckpt, err = learner.NewCheckpointStore(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Printf("[engine] WARNING: redis unavailable, learner checkpoints disabled: %v", err)
			ckpt = nil
		}
	}

	learners := make(map[string]strategy.Learner, len(cfg.Symbols))
	models := make(map[string]*learner.Learner, len(cfg.Symbols))
	if cfg.MLEnabled {
		for _, sym := range cfg.Symbols {
			m := learner.New(learner.Config{MinTrainSamples: cfg.MLMinSamples})
			if ckpt != nil {
				if snap, ok, err := ckpt.Load(ctx, sym); err != nil {
					log.Printf("[engine] checkpoint load %s failed: %v", sym, err)
				} else if ok {
					if err := m.Restore(snap); err != nil {
						log.Printf("[engine] checkpoint restore %s rejected: %v", sym, err)
					} else {
						log.Printf("[engine] learner %s restored, %d samples", sym, m.TrainCount())
					}
				}
			}
			models[sym] = m
			learners[sym] = m
		}
	}

	// ---- Strategy ----
	stratCfg := strategy.DefaultConfig()
	stratCfg.MLEnabled = cfg.MLEnabled
	stratCfg.ProbBuy = cfg.MLMinConfidence
	stratCfg.ProbSell = 1 - cfg.MLMinConfidence
	hybrid := strategy.NewHybrid(stratCfg, learners)
	hybrid.OnSignal = func(sig model.Signal) {
		prom.SignalsTotal.WithLabelValues(sig.Side).Inc()
	}
	hybrid.OnVeto = func(string) { prom.MLVetoes.Inc() }

	// ---- Warmup: QuestDB first, local archive as fallback ----
	warmupLimit := cfg.WarmupCandles
	if cfg.MLEnabled && cfg.WarmupCandlesML > warmupLimit {
		warmupLimit = cfg.WarmupCandlesML
	}
	reader := questdb.NewReader(cfg.QuestDBHost, cfg.QuestDBHTTPPort)
	if err := strategy.Warmup(ctx, hybrid, reader, cfg.Symbols, warmupLimit); err != nil {
		log.Printf("[engine] questdb warmup failed (%v), trying local archive", err)
		if err := strategy.Warmup(ctx, hybrid, archive, cfg.Symbols, warmupLimit); err != nil {
			log.Printf("[engine] WARNING: warmup unavailable, indicators start cold: %v", err)
		}
	}

	// ---- Execution ----
	exec, err := execution.NewEngine(execution.Config{
		InitialBalance: cfg.InitialBalance,
		RiskPerTrade:   cfg.RiskPerTrade,
		MaxPositionPct: cfg.MaxPositionPct,
		FeeRate:        cfg.FeeRate,
		CooldownMS:     cfg.CooldownMS,
		StatePath:      cfg.StatePath,
	}, guard, journal, poster, ilp)
	if err != nil {
		log.Fatalf("[engine] execution init failed: %v", err)
	}
	exec.OnReject = func(reason string) {
		prom.OrderRejections.WithLabelValues(reason).Inc()
	}
	exec.OnTrade = func(event string) {
		prom.TradesTotal.WithLabelValues(event).Inc()
	}
	go exec.Run(ctx, execCh)

	// ---- Market data ----
	ingest := ws.New(ws.IngestConfig{
		BaseURL:         cfg.WSBaseURL,
		Symbols:         cfg.Symbols,
		WatchdogTimeout: cfg.WatchdogTimeout,
	})
	ingest.OnReconnect = func() { prom.WSReconnects.Inc() }
	ingest.OnDrop = func() { prom.DroppedTicks.Inc() }
	go ingest.Run(ctx, tickCh)

	aggregator := agg.New(time.Second, candleCh)
	aggregator.OnLateTick = func() { prom.LateTicks.Inc() }

	aggTickCh := make(chan model.Tick, tickQueueSize)
	go aggregator.Run(ctx, aggTickCh)

	tickDispatch := pipeline.NewTickDispatcher(ilp, aggTickCh, poster, cfg.TickerSampleEvery)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-tickCh:
				if !ok {
					return
				}
				prom.TicksTotal.Inc()
				tickDispatch.Dispatch(ctx, tick)
			}
		}
	}()

	candleDispatch := pipeline.NewCandleDispatcher(multiCandleSink{ilp, archive}, strategyCh, exec.UpdateMark)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case candle, ok := <-candleCh:
				if !ok {
					return
				}
				prom.CandlesTotal.Inc()
				candleDispatch.Dispatch(ctx, candle)
			}
		}
	}()

	stratEngine := strategy.NewEngine(hybrid, execCh)
	go stratEngine.Run(ctx, strategyCh)

	// ---- Periodic loops: PnL broadcast, checkpoints, gauges ----
	go func() {
		ticker := time.NewTicker(pnlBroadcastEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				exec.BroadcastPortfolio(time.Now().UnixMilli())
				snap := exec.PnLSnapshot(time.Now().UnixMilli())
				prom.PortfolioBalance.Set(snap.Balance)
				prom.PortfolioEquity.Set(snap.Equity)
			}
		}
	}()

	if ckpt != nil && cfg.MLEnabled {
		go func() {
			ticker := time.NewTicker(checkpointSaveEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for sym, m := range models {
						if err := ckpt.Save(ctx, sym, m.Snapshot()); err != nil {
							log.Printf("[engine] checkpoint save %s failed: %v", sym, err)
						}
					}
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(saturationSampleRate)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.QueueSaturation.WithLabelValues("ticks").Set(float64(len(tickCh)) / tickQueueSize * 100)
				prom.QueueSaturation.WithLabelValues("candles").Set(float64(len(candleCh)) / candleQueueSize * 100)
				prom.QueueSaturation.WithLabelValues("exec").Set(float64(len(execCh)) / execQueueSize * 100)
				if locked, _ := guard.Status(); locked {
					prom.LockoutEngaged.Set(1)
				} else {
					prom.LockoutEngaged.Set(0)
				}
				prom.ConnectedClients.Set(float64(hub.ClientCount()))
			}
		}
	}()

	slogger.Info("engine running")
	<-sigCh
	log.Println("[engine] shutting down...")
	cancel()

	// The aggregator flushes its partial candles on cancellation; give the
	// pipeline a moment to drain before persisting final state.
	time.Sleep(500 * time.Millisecond)
	if err := exec.Persist(); err != nil {
		log.Printf("[engine] final state persist failed: %v", err)
	}
	if ckpt != nil && cfg.MLEnabled {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		for sym, m := range models {
			if err := ckpt.Save(saveCtx, sym, m.Snapshot()); err != nil {
				log.Printf("[engine] final checkpoint %s failed: %v", sym, err)
			}
		}
		saveCancel()
		ckpt.Close()
	}
	log.Println("[engine] bye")
}

// multiCandleSink fans one candle to several sinks.
type multiCandleSink []pipeline.CandleSink

func (m multiCandleSink) WriteCandle(c model.Candle) {
	for _, s := range m {
		s.WriteCandle(c)
	}
}
