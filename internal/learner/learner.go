// Package learner implements an online logistic-regression filter trained
// by stochastic gradient descent. It predicts the probability that the next
// candle closes higher, and the strategy uses that probability to veto
// signals that fight the model.
//
// Training is strictly causal: the feature vector built from candle t is
// cached and only trained once candle t+1 arrives and reveals the label.
package learner

import (
	"math"

	"github.com/Seemysama/tradingbibot/internal/indicator"
	"github.com/Seemysama/tradingbibot/internal/model"
)

const (
	featureDim  = 10
	histWindow  = 21 // enough closes for the 20-candle return
	volWindow   = 20
	rsiPeriod   = 14
	atrPeriod   = 14
	smaPeriod   = 5
	defaultEta0 = 0.05
	defaultL2   = 1e-4
)

// Config holds learner hyperparameters.
type Config struct {
	// MinTrainSamples gates predictions: until this many updates the
	// learner reports not ready and never vetoes.
	MinTrainSamples int
	// Eta0 is the initial SGD learning rate; the schedule decays it as
	// eta0 / (1 + 1e-3 * t).
	Eta0 float64
	// L2 is the ridge penalty applied to the weights each step.
	L2 float64
}

// Learner is the per-symbol online model. Not safe for concurrent use; the
// strategy engine drives it from a single goroutine.
type Learner struct {
	cfg Config

	w [featureDim]float64
	b float64

	trainCount int64
	scaler     *Scaler

	hist []model.Candle
	rsi  *indicator.RSI
	atr  *indicator.ATR
	sma5 *indicator.SMA

	// Cached features from the previous candle, waiting for a label.
	lastFeat  []float64
	lastClose float64
	hasCached bool

	prob float64
}

// New creates a learner with the given config. Zero hyperparameters fall
// back to defaults.
func New(cfg Config) *Learner {
	if cfg.Eta0 <= 0 {
		cfg.Eta0 = defaultEta0
	}
	if cfg.L2 <= 0 {
		cfg.L2 = defaultL2
	}
	return &Learner{
		cfg:    cfg,
		scaler: NewScaler(featureDim),
		rsi:    indicator.NewRSI(rsiPeriod),
		atr:    indicator.NewATR(atrPeriod),
		sma5:   indicator.NewSMA(smaPeriod),
	}
}

// OnCandle folds one completed candle into the model: train on the cached
// features now that the label is known, then build and cache the features
// of this candle and return the updated up-probability.
func (l *Learner) OnCandle(candle model.Candle) (float64, bool) {
	if l.hasCached {
		label := 0.0
		if candle.Close > l.lastClose {
			label = 1.0
		}
		l.train(l.lastFeat, label)
		l.hasCached = false
	}

	l.rsi.Update(candle)
	l.atr.Update(candle)
	l.sma5.Update(candle)
	l.hist = append(l.hist, candle)
	if len(l.hist) > histWindow {
		l.hist = l.hist[1:]
	}

	feat, ok := l.features(candle)
	if ok {
		l.lastFeat = feat
		l.lastClose = candle.Close
		l.hasCached = true
		l.prob = l.predict(feat)
	}

	return l.prob, l.Ready()
}

// Ready reports whether the model has seen enough labels to be trusted.
func (l *Learner) Ready() bool {
	return l.trainCount >= int64(l.cfg.MinTrainSamples)
}

// Prob returns the most recent up-probability.
func (l *Learner) Prob() float64 { return l.prob }

// TrainCount returns the number of labeled updates applied.
func (l *Learner) TrainCount() int64 { return l.trainCount }

// features builds the raw feature vector for the newest candle. Returns
// false until the history window is full.
func (l *Learner) features(c model.Candle) ([]float64, bool) {
	if len(l.hist) < histWindow || !l.rsi.Ready() || !l.atr.Ready() || !l.sma5.Ready() {
		return nil, false
	}
	n := len(l.hist)
	prev := l.hist[n-2]
	c5 := l.hist[n-6].Close
	c20 := l.hist[n-21].Close

	meanVol := 0.0
	for _, h := range l.hist[n-volWindow:] {
		meanVol += h.Volume
	}
	meanVol /= float64(volWindow)

	volRatio := 0.0
	if meanVol > 0 {
		volRatio = c.Volume / meanVol
	}

	feat := []float64{
		math.Log(c.Close / prev.Close),
		(c.High - c.Low) / c.Close,
		volRatio,
		(c.Close - c5) / c5,
		l.rsi.Value() / 100.0,
		(c.Close - c20) / c20,
		l.sma5.Value()/c.Close - 1.0,
		l.atr.Value() / c.Close,
		math.Log1p(c.Volume),
		boolToFloat(c.Close >= c.Open),
	}
	return feat, true
}

// train runs one SGD step: scaler update first, then the gradient step on
// the standardized sample.
func (l *Learner) train(feat []float64, label float64) {
	l.scaler.PartialFit(feat)
	x := l.scaler.Transform(feat)

	p := l.logit(x)
	grad := p - label

	l.trainCount++
	lr := l.cfg.Eta0 / (1.0 + 1e-3*float64(l.trainCount))

	for i := range l.w {
		l.w[i] -= lr * (grad*x[i] + l.cfg.L2*l.w[i])
	}
	l.b -= lr * grad
}

func (l *Learner) predict(feat []float64) float64 {
	return l.logit(l.scaler.Transform(feat))
}

func (l *Learner) logit(x []float64) float64 {
	z := l.b
	for i := range l.w {
		z += l.w[i] * x[i]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
