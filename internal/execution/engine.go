// Package execution simulates order fills against a cash portfolio. All
// portfolio mutations flow through a single mutex-guarded path: gate checks,
// sizing, fill accounting, durable state write, then event publication.
package execution

import (
	"context"
	"log"
	"sync"

	"github.com/Seemysama/tradingbibot/internal/model"
	"github.com/Seemysama/tradingbibot/internal/risk"
)

const (
	defaultQtyStep     = 0.001
	defaultMinNotional = 5.0
	recentSignalsCap   = 1000
)

// Config holds execution parameters.
type Config struct {
	InitialBalance float64
	RiskPerTrade   float64
	MaxPositionPct float64
	FeeRate        float64
	CooldownMS     int64
	QtyStep        float64
	MinNotional    float64
	StatePath      string
}

// Publisher fans executed-trade and PnL events out to dashboards.
// Implementations must not block.
type Publisher interface {
	Publish(event any)
}

// TradeSink receives every executed leg, typically the ILP writer.
type TradeSink interface {
	WriteTrade(symbol, side string, price, qty float64, tsMS int64)
}

// TradeEvent is broadcast after every executed leg.
type TradeEvent struct {
	Type     string  `json:"type"`
	SignalID string  `json:"signal_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Event    string  `json:"event"` // OPEN or CLOSE
	Price    float64 `json:"price"`
	Qty      float64 `json:"qty"`
	Fee      float64 `json:"fee"`
	PnL      float64 `json:"pnl,omitempty"`
	Balance  float64 `json:"balance"`
	TS       int64   `json:"timestamp"`
}

// PnLEvent is the periodic portfolio snapshot.
type PnLEvent struct {
	Type          string                    `json:"type"`
	Balance       float64                   `json:"balance"`
	Equity        float64                   `json:"equity"`
	RealizedPnL   float64                   `json:"realized_pnl"`
	UnrealizedPnL float64                   `json:"pnl_unrealized"`
	Positions     map[string]model.Position `json:"positions"`
	TS            int64                     `json:"timestamp"`
}

// Engine is the paper execution engine. Safe for concurrent use; signals,
// mark updates and PnL snapshots may arrive from different goroutines.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	pf        model.Portfolio
	marks     map[string]float64
	lastTrade map[string]int64

	seen      map[string]struct{}
	seenOrder []string

	guard   *risk.Guard
	pub     Publisher
	journal *Journal
	sink    TradeSink

	// OnReject observes business rejections by reason, for metrics.
	OnReject func(reason string)
	// OnTrade observes executed legs by event (OPEN or CLOSE), for metrics.
	OnTrade func(event string)
}

// NewEngine creates an execution engine. journal, pub and sink may be nil.
// The portfolio is restored from StatePath when a state file exists.
func NewEngine(cfg Config, guard *risk.Guard, journal *Journal, pub Publisher, sink TradeSink) (*Engine, error) {
	if cfg.QtyStep <= 0 {
		cfg.QtyStep = defaultQtyStep
	}
	if cfg.MinNotional <= 0 {
		cfg.MinNotional = defaultMinNotional
	}

	pf, err := LoadState(cfg.StatePath, cfg.InitialBalance)
	if err != nil {
		return nil, err
	}
	log.Printf("[exec] portfolio loaded: balance=%.2f positions=%d", pf.Balance, len(pf.Positions))

	return &Engine{
		cfg:       cfg,
		pf:        pf,
		marks:     make(map[string]float64),
		lastTrade: make(map[string]int64),
		seen:      make(map[string]struct{}),
		guard:     guard,
		pub:       pub,
		journal:   journal,
		sink:      sink,
	}, nil
}

// Run consumes signals until ctx is cancelled or sigCh is closed.
func (e *Engine) Run(ctx context.Context, sigCh <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			e.OnSignal(sig)
		}
	}
}

// UpdateMark records the latest price for a symbol, used for manual orders
// without a price and for unrealized PnL.
func (e *Engine) UpdateMark(candle model.Candle) {
	e.mu.Lock()
	e.marks[candle.Symbol] = candle.Close
	e.mu.Unlock()
}

// OnSignal runs one signal through the gate sequence. Every rejection is a
// log line plus the OnReject hook; only accepted signals mutate state.
func (e *Engine) OnSignal(sig model.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.guard != nil && e.guard.Locked() {
		log.Printf("[exec] REJECT %s %s: panic lockout active", sig.Side, sig.Symbol)
		e.reject("lockout")
		return
	}

	// Idempotence: each signal id executes at most once.
	if _, dup := e.seen[sig.ID]; dup {
		return
	}
	e.remember(sig.ID)

	// Cooldown: a signal landing exactly on the boundary is allowed.
	if last, ok := e.lastTrade[sig.Symbol]; ok && sig.TS-last < e.cfg.CooldownMS {
		log.Printf("[exec] REJECT %s %s: cooldown, %dms since last trade", sig.Side, sig.Symbol, sig.TS-last)
		e.reject("cooldown")
		return
	}

	price := sig.Price
	if price <= 0 {
		mark, ok := e.marks[sig.Symbol]
		if !ok {
			log.Printf("[exec] REJECT %s %s: no price and no mark", sig.Side, sig.Symbol)
			e.reject("no_price")
			return
		}
		price = mark
	}

	pos, havePos := e.pf.Positions[sig.Symbol]
	if havePos {
		sameSide := (sig.Side == model.SignalBuy && pos.Side == model.PositionLong) ||
			(sig.Side == model.SignalSell && pos.Side == model.PositionShort)
		if sameSide {
			log.Printf("[exec] REJECT %s %s: position already %s", sig.Side, sig.Symbol, pos.Side)
			e.reject("same_side")
			return
		}
		e.closePosition(sig, pos, price)
	}

	e.openPosition(sig, price)
}

// closePosition realizes PnL on the existing position and credits the
// balance. Caller holds the mutex.
func (e *Engine) closePosition(sig model.Signal, pos model.Position, exit float64) {
	grossPnL := pos.UnrealizedPnL(exit)
	exitValue := exit * pos.Qty
	fee := exitValue * e.cfg.FeeRate
	initialCost := pos.EntryPrice * pos.Qty

	e.pf.Balance += initialCost + grossPnL - fee
	e.pf.RealizedPnL += grossPnL - fee
	delete(e.pf.Positions, sig.Symbol)
	e.lastTrade[sig.Symbol] = sig.TS

	log.Printf("[exec] CLOSE %s %s qty=%.3f exit=%.4f pnl=%.4f fee=%.4f balance=%.2f",
		pos.Side, sig.Symbol, pos.Qty, exit, grossPnL-fee, fee, e.pf.Balance)

	e.recordLeg(sig, "CLOSE", pos.Qty, exit, fee, grossPnL-fee)
}

// openPosition sizes and opens a new position. Caller holds the mutex.
func (e *Engine) openPosition(sig model.Signal, price float64) {
	qty := PositionSize(e.pf.Balance, price, sig.StopLoss, sig.Side,
		e.cfg.RiskPerTrade, e.cfg.MaxPositionPct, e.cfg.QtyStep)
	if qty <= 0 {
		log.Printf("[exec] REJECT %s %s: sized to zero", sig.Side, sig.Symbol)
		e.reject("zero_size")
		return
	}

	if qty*price < e.cfg.MinNotional {
		log.Printf("[exec] REJECT %s %s: notional %.4f below minimum %.2f", sig.Side, sig.Symbol, qty*price, e.cfg.MinNotional)
		e.reject("min_notional")
		return
	}

	cost := qty * price
	fee := cost * e.cfg.FeeRate
	if cost+fee > e.pf.Balance {
		log.Printf("[exec] REJECT %s %s: need %.2f, balance %.2f", sig.Side, sig.Symbol, cost+fee, e.pf.Balance)
		e.reject("insufficient_funds")
		return
	}

	side := model.PositionLong
	if sig.Side == model.SignalSell {
		side = model.PositionShort
	}

	e.pf.Balance -= cost + fee
	e.pf.Positions[sig.Symbol] = model.Position{
		Symbol:     sig.Symbol,
		Side:       side,
		EntryPrice: price,
		Qty:        qty,
		OpenedTS:   sig.TS,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
	e.lastTrade[sig.Symbol] = sig.TS

	log.Printf("[exec] OPEN %s %s qty=%.3f entry=%.4f cost=%.4f fee=%.4f balance=%.2f",
		side, sig.Symbol, qty, price, cost, fee, e.pf.Balance)

	e.recordLeg(sig, "OPEN", qty, price, fee, 0)
}

// recordLeg persists state and fans the executed leg out. Caller holds the
// mutex.
func (e *Engine) recordLeg(sig model.Signal, event string, qty, price, fee, pnl float64) {
	if e.OnTrade != nil {
		e.OnTrade(event)
	}

	if err := SaveState(e.cfg.StatePath, e.pf); err != nil {
		log.Printf("[exec] CRITICAL: state persist failed: %v", err)
	}

	if e.journal != nil {
		if err := e.journal.Record(JournalEntry{
			SignalID: sig.ID,
			Symbol:   sig.Symbol,
			Side:     sig.Side,
			Event:    event,
			Qty:      qty,
			Price:    price,
			Fee:      fee,
			PnL:      pnl,
			Reason:   sig.Reason,
			TS:       sig.TS,
		}); err != nil {
			log.Printf("[exec] journal write failed: %v", err)
		}
	}

	if e.sink != nil {
		e.sink.WriteTrade(sig.Symbol, sig.Side, price, qty, sig.TS)
	}

	if e.pub != nil {
		e.pub.Publish(TradeEvent{
			Type:     "trade",
			SignalID: sig.ID,
			Symbol:   sig.Symbol,
			Side:     sig.Side,
			Event:    event,
			Price:    price,
			Qty:      qty,
			Fee:      fee,
			PnL:      pnl,
			Balance:  e.pf.Balance,
			TS:       sig.TS,
		})
		e.pub.Publish(e.pnlEventLocked(nowMS()))
	}
}

// BroadcastPortfolio publishes the current PnL snapshot, marking open
// positions with the freshest known prices.
func (e *Engine) BroadcastPortfolio(tsMS int64) {
	ev := e.PnLSnapshot(tsMS)
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}

// PnLSnapshot returns the current portfolio valuation.
func (e *Engine) PnLSnapshot(tsMS int64) PnLEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pnlEventLocked(tsMS)
}

// Portfolio returns a copy of the current portfolio.
func (e *Engine) Portfolio() model.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.pf
	cp.Positions = make(map[string]model.Position, len(e.pf.Positions))
	for k, v := range e.pf.Positions {
		cp.Positions[k] = v
	}
	return cp
}

// Persist writes the current portfolio to disk, used at shutdown.
func (e *Engine) Persist() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SaveState(e.cfg.StatePath, e.pf)
}

// pnlEventLocked builds the portfolio snapshot. Caller holds the mutex.
// Positions without a mark are valued at entry.
func (e *Engine) pnlEventLocked(tsMS int64) PnLEvent {
	unrealized := 0.0
	positions := make(map[string]model.Position, len(e.pf.Positions))
	for sym, pos := range e.pf.Positions {
		mark, ok := e.marks[sym]
		if !ok {
			mark = pos.EntryPrice
		}
		unrealized += pos.UnrealizedPnL(mark)
		positions[sym] = pos
	}
	return PnLEvent{
		Type:          "pnl",
		Balance:       e.pf.Balance,
		Equity:        e.pf.Balance + unrealized,
		RealizedPnL:   e.pf.RealizedPnL,
		UnrealizedPnL: unrealized,
		Positions:     positions,
		TS:            tsMS,
	}
}

func (e *Engine) remember(id string) {
	e.seen[id] = struct{}{}
	e.seenOrder = append(e.seenOrder, id)
	if len(e.seenOrder) > recentSignalsCap {
		oldest := e.seenOrder[0]
		e.seenOrder = e.seenOrder[1:]
		delete(e.seen, oldest)
	}
}

func (e *Engine) reject(reason string) {
	if e.OnReject != nil {
		e.OnReject(reason)
	}
}
