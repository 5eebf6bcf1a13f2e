package technical

import (
	"github.com/tradefabric/tradefabric/internal/model"
)

// series is a bounded ring of closing prices for one (symbol, timeframe)
// pair, newest last.
type series struct {
	closes []float64
	limit  int
}

func newSeries(limit int) *series {
	return &series{limit: limit}
}

func (s *series) add(close float64) {
	s.closes = append(s.closes, close)
	if len(s.closes) > s.limit {
		s.closes = s.closes[len(s.closes)-s.limit:]
	}
}

// snapshot returns the closes oldest-first. The slice is shared; callers
// must not mutate it.
func (s *series) snapshot() []float64 {
	return s.closes
}

type seriesKey struct {
	symbol    string
	timeframe model.Timeframe
}

// history indexes candle series by symbol and timeframe.
type history struct {
	limit  int
	series map[seriesKey]*series
}

func newHistory(limit int) *history {
	return &history{limit: limit, series: make(map[seriesKey]*series)}
}

func (h *history) record(data model.MarketData) {
	key := seriesKey{symbol: data.Symbol, timeframe: data.Timeframe}
	s, ok := h.series[key]
	if !ok {
		s = newSeries(h.limit)
		h.series[key] = s
	}
	close := data.Close
	if close == 0 {
		close = data.Mid()
	}
	s.add(close)
}

func (h *history) each(fn func(symbol string, tf model.Timeframe, closes []float64)) {
	for key, s := range h.series {
		fn(key.symbol, key.timeframe, s.snapshot())
	}
}
