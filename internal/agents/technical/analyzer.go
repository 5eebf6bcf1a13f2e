package technical

import (
	"time"

	"github.com/tradefabric/tradefabric/internal/model"
)

// Analyzer inspects a close series and may produce a signal. Implementations
// are pure: the agent owns scheduling and freshness.
type Analyzer interface {
	Name() model.Indicator
	Analyze(symbol string, tf model.Timeframe, closes []float64) (model.TechnicalSignal, bool)
}

// momentumAnalyzer signals when the last close deviates from the mean of the
// window by more than the threshold fraction.
type momentumAnalyzer struct {
	window    int
	threshold float64
}

// NewMomentumAnalyzer builds the default momentum study. A 10-candle window
// with a 0.1% threshold suits intraday forex timeframes.
func NewMomentumAnalyzer(window int, threshold float64) Analyzer {
	return &momentumAnalyzer{window: window, threshold: threshold}
}

func (*momentumAnalyzer) Name() model.Indicator { return model.IndicatorMomentum }

func (a *momentumAnalyzer) Analyze(symbol string, tf model.Timeframe, closes []float64) (model.TechnicalSignal, bool) {
	if len(closes) < a.window {
		return model.TechnicalSignal{}, false
	}
	window := closes[len(closes)-a.window:]
	mean := 0.0
	for _, c := range window {
		mean += c
	}
	mean /= float64(len(window))
	last := closes[len(closes)-1]
	dev := (last - mean) / mean

	if dev > -a.threshold && dev < a.threshold {
		return model.TechnicalSignal{}, false
	}

	direction := model.Long
	if dev < 0 {
		direction = model.Short
	}
	confidence := model.ConfidenceMedium
	if dev > 2*a.threshold || dev < -2*a.threshold {
		confidence = model.ConfidenceHigh
	}
	return model.TechnicalSignal{
		Symbol:     symbol,
		Timeframe:  tf,
		Indicator:  model.IndicatorMomentum,
		Direction:  direction,
		Confidence: confidence,
		Value:      dev,
		Timestamp:  time.Now().UTC(),
	}, true
}

// maCrossoverAnalyzer signals when a fast moving average crosses a slow one.
type maCrossoverAnalyzer struct {
	fast int
	slow int
}

// NewMACrossoverAnalyzer builds a moving-average crossover study.
func NewMACrossoverAnalyzer(fast, slow int) Analyzer {
	return &maCrossoverAnalyzer{fast: fast, slow: slow}
}

func (*maCrossoverAnalyzer) Name() model.Indicator { return model.IndicatorMACrossover }

func (a *maCrossoverAnalyzer) Analyze(symbol string, tf model.Timeframe, closes []float64) (model.TechnicalSignal, bool) {
	// Need one extra candle to see the cross happen.
	if len(closes) < a.slow+1 {
		return model.TechnicalSignal{}, false
	}

	fastNow := sma(closes, a.fast, 0)
	slowNow := sma(closes, a.slow, 0)
	fastPrev := sma(closes, a.fast, 1)
	slowPrev := sma(closes, a.slow, 1)

	var direction model.Direction
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		direction = model.Long
	case fastPrev >= slowPrev && fastNow < slowNow:
		direction = model.Short
	default:
		return model.TechnicalSignal{}, false
	}

	return model.TechnicalSignal{
		Symbol:     symbol,
		Timeframe:  tf,
		Indicator:  model.IndicatorMACrossover,
		Direction:  direction,
		Confidence: model.ConfidenceHigh,
		Value:      fastNow - slowNow,
		Timestamp:  time.Now().UTC(),
	}, true
}

// sma computes the simple moving average of the last n closes, skipping the
// most recent `back` candles.
func sma(closes []float64, n, back int) float64 {
	end := len(closes) - back
	start := end - n
	sum := 0.0
	for _, c := range closes[start:end] {
		sum += c
	}
	return sum / float64(n)
}
