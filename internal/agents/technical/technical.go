// Package technical implements the technical analysis agent. It accumulates
// market data into per-symbol candle series and periodically runs its
// analyzers, broadcasting a technical_signal for every study that fires.
package technical

import (
	"context"
	"time"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// AgentID is the wire id of the technical analysis agent.
const AgentID = "technical_analysis"

const historyLimit = 200

// Agent is the technical analysis agent.
type Agent struct {
	*agent.Base

	cfg        config.TechnicalConfig
	analyzers  []Analyzer
	history    *history
	tracked    map[string]bool
	timeframes map[model.Timeframe]bool
	lastRun    time.Time
}

// New creates the agent with the default analyzer set.
func New(b *broker.Broker, cfg config.TechnicalConfig, rt agent.Config) *Agent {
	a := &Agent{
		cfg: cfg,
		analyzers: []Analyzer{
			NewMomentumAnalyzer(10, 0.001),
			NewMACrossoverAnalyzer(5, 20),
		},
		history:    newHistory(historyLimit),
		tracked:    make(map[string]bool, len(cfg.Symbols)),
		timeframes: make(map[model.Timeframe]bool, len(cfg.Timeframes)),
	}
	for _, sym := range cfg.Symbols {
		a.tracked[sym] = true
	}
	for _, tf := range cfg.Timeframes {
		a.timeframes[model.Timeframe(tf)] = true
	}
	a.Base = agent.NewBase(AgentID, log.CatTech, b, a, rt)
	return a
}

// SetAnalyzers replaces the analyzer set. Must be called before Start.
func (a *Agent) SetAnalyzers(analyzers ...Analyzer) {
	a.analyzers = analyzers
}

// Setup subscribes to the market data feed.
func (a *Agent) Setup(context.Context) error {
	a.SubscribeTo(model.KindMarketData, model.KindSystemStatus)
	return nil
}

// HandleMessage records candles for tracked symbols and timeframes.
func (a *Agent) HandleMessage(_ context.Context, msg model.Message) error {
	data, ok := msg.Payload.(model.MarketData)
	if !ok {
		return nil
	}
	if len(a.tracked) > 0 && !a.tracked[data.Symbol] {
		return nil
	}
	if len(a.timeframes) > 0 && !a.timeframes[data.Timeframe] {
		return nil
	}
	a.history.record(data)
	return nil
}

// ProcessCycle runs the analyzers at most once per update interval.
func (a *Agent) ProcessCycle(context.Context) (bool, error) {
	now := time.Now().UTC()
	if now.Sub(a.lastRun) < a.cfg.UpdateInterval {
		return false, nil
	}
	a.lastRun = now

	emitted := 0
	a.history.each(func(symbol string, tf model.Timeframe, closes []float64) {
		for _, analyzer := range a.analyzers {
			signal, ok := analyzer.Analyze(symbol, tf, closes)
			if !ok {
				continue
			}
			a.SendMessage(model.KindTechnicalSignal, signal)
			emitted++
		}
	})
	if emitted > 0 {
		log.Debug(log.CatTech, "signals emitted", "count", emitted)
	}
	return emitted > 0, nil
}

// Cleanup has nothing to release.
func (a *Agent) Cleanup(context.Context) error { return nil }
