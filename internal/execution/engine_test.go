package execution

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/Seemysama/tradingbibot/internal/model"
	"github.com/Seemysama/tradingbibot/internal/risk"
)

type capturePub struct {
	events []any
}

func (p *capturePub) Publish(e any) { p.events = append(p.events, e) }

func (p *capturePub) trades() []TradeEvent {
	var out []TradeEvent
	for _, e := range p.events {
		if t, ok := e.(TradeEvent); ok {
			out = append(out, t)
		}
	}
	return out
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		InitialBalance: 10000,
		RiskPerTrade:   0.01,
		MaxPositionPct: 0.20,
		FeeRate:        0.0004,
		CooldownMS:     3000,
		StatePath:      filepath.Join(t.TempDir(), "state.json"),
	}
}

func newTestEngine(t *testing.T, pub Publisher) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig(t), nil, nil, pub, nil)
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	return e
}

func buySignal(id string, ts int64) model.Signal {
	return model.Signal{
		ID: id, Symbol: "BTCUSDT", Side: model.SignalBuy,
		Price: 120, TS: ts, StopLoss: 116, TakeProfit: 126,
	}
}

func within(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestOpenLongSizingAndFees(t *testing.T) {
	pub := &capturePub{}
	e := newTestEngine(t, pub)

	e.OnSignal(buySignal("s1", 1000))

	pf := e.Portfolio()
	pos, ok := pf.Positions["BTCUSDT"]
	if !ok {
		t.Fatal("no position opened")
	}

	// qty_risk = 100/|120-116| = 25, qty_cap = 2000/120 = 16.6667,
	// floored to the 0.001 step.
	wantQty := 16.666
	if !within(pos.Qty, wantQty) {
		t.Errorf("qty = %v, want %v", pos.Qty, wantQty)
	}
	if pos.Side != model.PositionLong || pos.EntryPrice != 120 {
		t.Errorf("position = %+v", pos)
	}

	cost := wantQty * 120
	fee := cost * 0.0004
	wantBalance := 10000 - cost - fee
	if !within(pf.Balance, wantBalance) {
		t.Errorf("balance = %v, want %v", pf.Balance, wantBalance)
	}

	trades := pub.trades()
	if len(trades) != 1 || trades[0].Event != "OPEN" {
		t.Fatalf("trade events = %+v, want one OPEN", trades)
	}
	if !within(trades[0].Fee, fee) {
		t.Errorf("fee = %v, want %v", trades[0].Fee, fee)
	}
}

func TestFallbackStopSizing(t *testing.T) {
	e := newTestEngine(t, nil)

	sig := buySignal("s1", 1000)
	sig.StopLoss = 0 // substitute entry*0.98, dist = 2.4

	e.OnSignal(sig)

	pos := e.Portfolio().Positions["BTCUSDT"]
	// qty_risk = 100/2.4 = 41.667, qty_cap = 16.6667, cap wins.
	if !within(pos.Qty, 16.666) {
		t.Errorf("qty = %v, want 16.666", pos.Qty)
	}
}

func TestCooldownRejectsAndBoundaryAllows(t *testing.T) {
	e := newTestEngine(t, nil)

	e.OnSignal(buySignal("s1", 1000))
	balance := e.Portfolio().Balance

	// Inside the window: rejected, no state change.
	var reasons []string
	e.OnReject = func(r string) { reasons = append(reasons, r) }
	sell := model.Signal{ID: "s2", Symbol: "BTCUSDT", Side: model.SignalSell, Price: 125, TS: 3999, StopLoss: 130}
	e.OnSignal(sell)

	if got := e.Portfolio().Balance; got != balance {
		t.Errorf("balance changed during cooldown: %v -> %v", balance, got)
	}
	if len(reasons) != 1 || reasons[0] != "cooldown" {
		t.Errorf("rejections = %v, want [cooldown]", reasons)
	}

	// Exactly on the boundary: allowed.
	sell.ID = "s3"
	sell.TS = 4000
	e.OnSignal(sell)
	if pos := e.Portfolio().Positions["BTCUSDT"]; pos.Side != model.PositionShort {
		t.Errorf("boundary signal not executed, position = %+v", pos)
	}
}

func TestDuplicateSignalIgnored(t *testing.T) {
	e := newTestEngine(t, nil)

	e.OnSignal(buySignal("dup", 1000))
	balance := e.Portfolio().Balance

	// Same id past the cooldown window still must not execute.
	e.OnSignal(buySignal("dup", 10000))

	if got := e.Portfolio().Balance; got != balance {
		t.Errorf("duplicate executed: balance %v -> %v", balance, got)
	}
}

func TestSameSideSignalDropped(t *testing.T) {
	e := newTestEngine(t, nil)
	var reasons []string
	e.OnReject = func(r string) { reasons = append(reasons, r) }

	e.OnSignal(buySignal("s1", 1000))
	e.OnSignal(buySignal("s2", 10000))

	if len(reasons) != 1 || reasons[0] != "same_side" {
		t.Errorf("rejections = %v, want [same_side]", reasons)
	}
	if pos := e.Portfolio().Positions["BTCUSDT"]; pos.EntryPrice != 120 {
		t.Errorf("original position mutated: %+v", pos)
	}
}

func TestOppositeSignalClosesThenOpens(t *testing.T) {
	pub := &capturePub{}
	e := newTestEngine(t, pub)

	e.OnSignal(buySignal("s1", 1000))
	open := e.Portfolio()
	qty := open.Positions["BTCUSDT"].Qty

	sell := model.Signal{ID: "s2", Symbol: "BTCUSDT", Side: model.SignalSell, Price: 125, TS: 10000, StopLoss: 130, TakeProfit: 119}
	e.OnSignal(sell)

	pf := e.Portfolio()

	grossPnL := (125.0 - 120.0) * qty
	exitFee := 125.0 * qty * 0.0004
	wantRealized := grossPnL - exitFee
	if !within(pf.RealizedPnL, wantRealized) {
		t.Errorf("realized pnl = %v, want %v", pf.RealizedPnL, wantRealized)
	}

	pos, ok := pf.Positions["BTCUSDT"]
	if !ok || pos.Side != model.PositionShort {
		t.Fatalf("reversal did not open SHORT: %+v", pos)
	}
	if pos.EntryPrice != 125 {
		t.Errorf("short entry = %v, want 125", pos.EntryPrice)
	}

	trades := pub.trades()
	if len(trades) != 3 {
		t.Fatalf("trade events = %d, want 3 (open, close, open)", len(trades))
	}
	if trades[1].Event != "CLOSE" || !within(trades[1].PnL, wantRealized) {
		t.Errorf("close event = %+v", trades[1])
	}
}

func TestShortCloseUsesStrictPnL(t *testing.T) {
	e := newTestEngine(t, nil)

	sell := model.Signal{ID: "s1", Symbol: "BTCUSDT", Side: model.SignalSell, Price: 100, TS: 1000, StopLoss: 102}
	e.OnSignal(sell)
	qty := e.Portfolio().Positions["BTCUSDT"].Qty

	// Price fell: the short wins (entry - exit) * qty.
	buy := model.Signal{ID: "s2", Symbol: "BTCUSDT", Side: model.SignalBuy, Price: 90, TS: 10000, StopLoss: 88}
	e.OnSignal(buy)

	pf := e.Portfolio()
	gross := (100.0 - 90.0) * qty
	exitFee := 90.0 * qty * 0.0004
	if !within(pf.RealizedPnL, gross-exitFee) {
		t.Errorf("short realized = %v, want %v", pf.RealizedPnL, gross-exitFee)
	}
}

func TestMinNotionalRejection(t *testing.T) {
	cfg := testConfig(t)
	cfg.InitialBalance = 20 // cap sizes the order to 4 notional, below 5
	e, err := NewEngine(cfg, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var reasons []string
	e.OnReject = func(r string) { reasons = append(reasons, r) }

	e.OnSignal(model.Signal{ID: "s1", Symbol: "BTCUSDT", Side: model.SignalBuy, Price: 100, TS: 1000, StopLoss: 99})

	if len(e.Portfolio().Positions) != 0 {
		t.Fatal("position opened below min notional")
	}
	if len(reasons) != 1 || reasons[0] != "min_notional" {
		t.Errorf("rejections = %v, want [min_notional]", reasons)
	}
}

func TestZeroSizeRejection(t *testing.T) {
	cfg := testConfig(t)
	cfg.InitialBalance = 0.4 // cap sizes to under one step
	e, err := NewEngine(cfg, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var reasons []string
	e.OnReject = func(r string) { reasons = append(reasons, r) }

	e.OnSignal(model.Signal{ID: "s1", Symbol: "BTCUSDT", Side: model.SignalBuy, Price: 100, TS: 1000, StopLoss: 99})

	if len(reasons) != 1 || reasons[0] != "zero_size" {
		t.Errorf("rejections = %v, want [zero_size]", reasons)
	}
}

func TestLockoutBlocksEverything(t *testing.T) {
	guard := risk.NewGuard()
	e, err := NewEngine(testConfig(t), guard, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var reasons []string
	e.OnReject = func(r string) { reasons = append(reasons, r) }

	guard.Trip("test")
	e.OnSignal(buySignal("s1", 1000))

	if len(e.Portfolio().Positions) != 0 {
		t.Fatal("position opened under lockout")
	}
	if len(reasons) != 1 || reasons[0] != "lockout" {
		t.Errorf("rejections = %v, want [lockout]", reasons)
	}

	// The blocked id was never consumed: the same signal executes after
	// the guard clears.
	guard.Clear()
	e.OnSignal(buySignal("s1", 1000))
	if len(e.Portfolio().Positions) != 1 {
		t.Fatal("signal not executed after clear")
	}
}

func TestManualSignalUsesMarkPrice(t *testing.T) {
	e := newTestEngine(t, nil)

	var reasons []string
	e.OnReject = func(r string) { reasons = append(reasons, r) }

	// No mark yet: rejected.
	manual := model.Signal{ID: "m1", Symbol: "BTCUSDT", Side: model.SignalBuy, Price: 0, TS: 1000}
	e.OnSignal(manual)
	if len(reasons) != 1 || reasons[0] != "no_price" {
		t.Fatalf("rejections = %v, want [no_price]", reasons)
	}

	e.UpdateMark(model.Candle{Symbol: "BTCUSDT", Start: 1000, Open: 110, High: 110, Low: 110, Close: 110})

	manual.ID = "m2"
	e.OnSignal(manual)
	pos, ok := e.Portfolio().Positions["BTCUSDT"]
	if !ok || pos.EntryPrice != 110 {
		t.Errorf("manual order entry = %+v, want mark 110", pos)
	}
}

func TestPnLEventEquity(t *testing.T) {
	pub := &capturePub{}
	e := newTestEngine(t, pub)

	e.OnSignal(buySignal("s1", 1000))
	e.UpdateMark(model.Candle{Symbol: "BTCUSDT", Start: 2000, Open: 130, High: 130, Low: 130, Close: 130})

	pub.events = nil
	e.BroadcastPortfolio(5000)

	if len(pub.events) != 1 {
		t.Fatalf("events = %d, want 1", len(pub.events))
	}
	ev, ok := pub.events[0].(PnLEvent)
	if !ok {
		t.Fatalf("event type %T, want PnLEvent", pub.events[0])
	}

	qty := 16.666
	wantUnrealized := (130.0 - 120.0) * qty
	if !within(ev.UnrealizedPnL, wantUnrealized) {
		t.Errorf("unrealized = %v, want %v", ev.UnrealizedPnL, wantUnrealized)
	}
	// Equity is cash plus mark-to-market PnL; the entry cost already left
	// the balance at open and must not be counted again.
	wantEquity := ev.Balance + wantUnrealized
	if !within(ev.Equity, wantEquity) {
		t.Errorf("equity = %v, want %v", ev.Equity, wantEquity)
	}
	cost := 120.0 * qty
	fee := cost * 0.0004
	if !within(ev.Equity, 10000-cost-fee+wantUnrealized) {
		t.Errorf("equity = %v, want %v", ev.Equity, 10000-cost-fee+wantUnrealized)
	}
	if ev.TS != 5000 || ev.Type != "pnl" {
		t.Errorf("event meta = %+v", ev)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	e1, err := NewEngine(cfg, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e1.OnSignal(buySignal("s1", 1000))
	want := e1.Portfolio()

	e2, err := NewEngine(cfg, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := e2.Portfolio()

	if !within(got.Balance, want.Balance) {
		t.Errorf("balance = %v, want %v", got.Balance, want.Balance)
	}
	pos, ok := got.Positions["BTCUSDT"]
	if !ok {
		t.Fatal("position not restored")
	}
	if pos.Side != model.PositionLong || pos.EntryPrice != 120 || !within(pos.Qty, 16.666) {
		t.Errorf("restored position = %+v", pos)
	}
	if pos.StopLoss != 116 || pos.TakeProfit != 126 {
		t.Errorf("restored levels = %v/%v, want 116/126", pos.StopLoss, pos.TakeProfit)
	}
	if pos.OpenedTS != 1000 {
		t.Errorf("restored ts = %v, want 1000", pos.OpenedTS)
	}
}

func TestRoundStep(t *testing.T) {
	cases := []struct {
		qty, step, want float64
	}{
		{16.6667, 0.001, 16.666},
		{1.0, 0.001, 1.0},
		{0.0009, 0.001, 0},
		{5.5555, 0.01, 5.55},
	}
	for _, tc := range cases {
		if got := RoundStep(tc.qty, tc.step); !within(got, tc.want) {
			t.Errorf("RoundStep(%v, %v) = %v, want %v", tc.qty, tc.step, got, tc.want)
		}
	}
}

func TestJournalRecordsLegs(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal open: %v", err)
	}
	defer j.Close()

	cfg := testConfig(t)
	e, err := NewEngine(cfg, nil, j, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	e.OnSignal(buySignal("s1", 1000))
	e.OnSignal(model.Signal{ID: "s2", Symbol: "BTCUSDT", Side: model.SignalSell, Price: 125, TS: 10000, StopLoss: 130})

	trades, err := j.RecentTrades(10)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	// open, close, open: newest first.
	if len(trades) != 3 {
		t.Fatalf("journal rows = %d, want 3", len(trades))
	}
	if trades[0].Event != "OPEN" || trades[0].Side != model.SignalSell {
		t.Errorf("newest row = %+v, want SHORT open", trades[0])
	}
	if trades[1].Event != "CLOSE" || trades[1].PnL == 0 {
		t.Errorf("close row = %+v, want realized pnl", trades[1])
	}
}

func TestOnTradeObservesEveryLeg(t *testing.T) {
	e := newTestEngine(t, nil)
	var legs []string
	e.OnTrade = func(event string) { legs = append(legs, event) }

	e.OnSignal(buySignal("s1", 1000))
	e.OnSignal(model.Signal{ID: "s2", Symbol: "BTCUSDT", Side: model.SignalSell, Price: 125, TS: 10000, StopLoss: 130})
	// Rejections must not count as legs.
	e.OnSignal(model.Signal{ID: "s3", Symbol: "BTCUSDT", Side: model.SignalSell, Price: 125, TS: 10001, StopLoss: 130})

	want := []string{"OPEN", "CLOSE", "OPEN"}
	if len(legs) != len(want) {
		t.Fatalf("legs = %v, want %v", legs, want)
	}
	for i := range want {
		if legs[i] != want[i] {
			t.Errorf("leg[%d] = %q, want %q", i, legs[i], want[i])
		}
	}
}
