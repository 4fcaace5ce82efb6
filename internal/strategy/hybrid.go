// Package strategy implements the hybrid trend strategy: SMA crossover
// entry, ADX trend-strength gate, long-horizon SMA regime filter, ATR
// protective levels, and an online ML probability veto.
package strategy

import (
	"fmt"
	"log"

	"github.com/Seemysama/tradingbibot/internal/indicator"
	"github.com/Seemysama/tradingbibot/internal/model"
)

// Config holds strategy parameters.
type Config struct {
	FastPeriod  int     // SMA fast, default 5
	SlowPeriod  int     // SMA slow, default 20
	TrendPeriod int     // SMA regime filter, default 200
	ADXPeriod   int     // default 14
	ATRPeriod   int     // default 14
	MinADX      float64 // trend-strength gate, default 25
	StopMult    float64 // stop distance in ATRs, default 2
	TargetMult  float64 // target distance in ATRs, default 3

	MLEnabled bool
	// ProbBuy is the minimum up-probability for a BUY to survive the
	// veto; ProbSell is the maximum up-probability for a SELL.
	ProbBuy  float64
	ProbSell float64
}

// DefaultConfig returns the standard parameter set.
func DefaultConfig() Config {
	return Config{
		FastPeriod:  5,
		SlowPeriod:  20,
		TrendPeriod: 200,
		ADXPeriod:   14,
		ATRPeriod:   14,
		MinADX:      25,
		StopMult:    2,
		TargetMult:  3,
		MLEnabled:   true,
		ProbBuy:     0.60,
		ProbSell:    0.40,
	}
}

// Learner scores each candle with the probability the next close is higher.
// ready=false means the model has not trained enough to be trusted.
type Learner interface {
	OnCandle(candle model.Candle) (pUp float64, ready bool)
}

// symbolState tracks indicator state for one symbol.
type symbolState struct {
	fast  *indicator.SMA
	slow  *indicator.SMA
	trend *indicator.SMA
	adx   *indicator.ADX
	atr   *indicator.ATR

	count    int
	prevFast float64
	prevSlow float64
	havePrev bool
	seq      int64
}

// snapshot carries the per-candle indicator readings into evaluation, so
// the decision rules are testable with literal values.
type snapshot struct {
	symbol   string
	close_   float64
	start    int64
	fast     float64
	slow     float64
	prevFast float64
	prevSlow float64
	trend    float64
	adx      float64
	atr      float64
	ready    bool
	havePrev bool
	count    int
}

// Hybrid runs the strategy across symbols. Not safe for concurrent use; the
// candle dispatcher drives it from a single goroutine.
type Hybrid struct {
	cfg      Config
	states   map[string]*symbolState
	learners map[string]Learner

	// Backtest suppresses emission during warmup replay so historical
	// candles prime state without trading.
	Backtest bool

	OnSignal func(sig model.Signal)
	OnVeto   func(symbol string)
}

// NewHybrid creates the strategy. learners maps symbol to its model and may
// be nil when the ML filter is disabled.
func NewHybrid(cfg Config, learners map[string]Learner) *Hybrid {
	return &Hybrid{
		cfg:      cfg,
		states:   make(map[string]*symbolState),
		learners: learners,
	}
}

func (h *Hybrid) state(symbol string) *symbolState {
	st, ok := h.states[symbol]
	if !ok {
		st = &symbolState{
			fast:  indicator.NewSMA(h.cfg.FastPeriod),
			slow:  indicator.NewSMA(h.cfg.SlowPeriod),
			trend: indicator.NewSMA(h.cfg.TrendPeriod),
			adx:   indicator.NewADX(h.cfg.ADXPeriod),
			atr:   indicator.NewATR(h.cfg.ATRPeriod),
		}
		h.states[symbol] = st
	}
	return st
}

// OnCandle processes one completed candle and returns a signal, or nil when
// no entry triggers. The learner always sees the candle first so its
// training never depends on whether a signal fired.
func (h *Hybrid) OnCandle(candle model.Candle) *model.Signal {
	var pUp float64
	var mlReady bool
	if lr, ok := h.learners[candle.Symbol]; ok && lr != nil {
		pUp, mlReady = lr.OnCandle(candle)
	}

	st := h.state(candle.Symbol)
	st.fast.Update(candle)
	st.slow.Update(candle)
	st.trend.Update(candle)
	st.adx.Update(candle)
	st.atr.Update(candle)
	st.count++

	snap := snapshot{
		symbol:   candle.Symbol,
		close_:   candle.Close,
		start:    candle.Start,
		fast:     st.fast.Value(),
		slow:     st.slow.Value(),
		prevFast: st.prevFast,
		prevSlow: st.prevSlow,
		trend:    st.trend.Value(),
		adx:      st.adx.Value(),
		atr:      st.atr.Value(),
		ready:    st.fast.Ready() && st.slow.Ready() && st.trend.Ready() && st.adx.Ready() && st.atr.Ready(),
		havePrev: st.havePrev,
		count:    st.count,
	}

	st.prevFast = st.fast.Value()
	st.prevSlow = st.slow.Value()
	st.havePrev = st.fast.Ready() && st.slow.Ready()

	sig := h.evaluate(snap, pUp, mlReady)
	if sig == nil {
		return nil
	}

	st.seq++
	sig.ID = fmt.Sprintf("%s-%d-%d", candle.Symbol, candle.Start, st.seq)

	if h.Backtest {
		return nil
	}
	if h.OnSignal != nil {
		h.OnSignal(*sig)
	}
	return sig
}

// evaluate applies the entry rules in order. Any failed gate means no
// signal; only the regime filter and the ML veto log, since those carry
// information a flat readiness check does not.
func (h *Hybrid) evaluate(s snapshot, pUp float64, mlReady bool) *model.Signal {
	// Need the trend SMA full plus one candle of crossover history.
	if !s.ready || !s.havePrev || s.count < h.cfg.TrendPeriod+1 {
		return nil
	}

	// Weak trend: crossovers in chop are noise.
	if s.adx < h.cfg.MinADX {
		return nil
	}

	var side string
	switch {
	case s.prevFast <= s.prevSlow && s.fast > s.slow:
		side = model.SignalBuy
	case s.prevFast >= s.prevSlow && s.fast < s.slow:
		side = model.SignalSell
	default:
		return nil
	}

	// Regime filter: only trade with the long trend.
	if side == model.SignalBuy && s.close_ <= s.trend {
		log.Printf("[strategy] %s counter-trend BUY skipped: close %.4f <= SMA%d %.4f",
			s.symbol, s.close_, h.cfg.TrendPeriod, s.trend)
		return nil
	}
	if side == model.SignalSell && s.close_ >= s.trend {
		log.Printf("[strategy] %s counter-trend SELL skipped: close %.4f >= SMA%d %.4f",
			s.symbol, s.close_, h.cfg.TrendPeriod, s.trend)
		return nil
	}

	if s.atr <= 0 {
		return nil
	}

	var stopLoss, takeProfit float64
	if side == model.SignalBuy {
		stopLoss = s.close_ - h.cfg.StopMult*s.atr
		takeProfit = s.close_ + h.cfg.TargetMult*s.atr
	} else {
		stopLoss = s.close_ + h.cfg.StopMult*s.atr
		takeProfit = s.close_ - h.cfg.TargetMult*s.atr
	}

	if h.cfg.MLEnabled && mlReady {
		if side == model.SignalBuy && pUp < h.cfg.ProbBuy {
			log.Printf("[strategy] ML VETO %s BUY: p(up)=%.3f < %.2f", s.symbol, pUp, h.cfg.ProbBuy)
			if h.OnVeto != nil {
				h.OnVeto(s.symbol)
			}
			return nil
		}
		if side == model.SignalSell && pUp > h.cfg.ProbSell {
			log.Printf("[strategy] ML VETO %s SELL: p(up)=%.3f > %.2f", s.symbol, pUp, h.cfg.ProbSell)
			if h.OnVeto != nil {
				h.OnVeto(s.symbol)
			}
			return nil
		}
	}

	return &model.Signal{
		Symbol:     s.symbol,
		Side:       side,
		Price:      s.close_,
		TS:         s.start,
		Reason:     fmt.Sprintf("sma%d/%d cross, adx=%.1f", h.cfg.FastPeriod, h.cfg.SlowPeriod, s.adx),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
}
