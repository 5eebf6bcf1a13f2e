package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/model"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		UpdateInterval:    time.Millisecond,
		MinConfidence:     0.6,
		DefaultSize:       10000,
		ProposalTimeLimit: time.Hour,
		SignalFreshness:   5 * time.Minute,
	}
}

func newTestAgent(t *testing.T) (*Agent, *broker.Inbox, *broker.Broker) {
	t.Helper()
	b := broker.New(broker.Config{CacheTTL: time.Second})
	a := New(b, testStrategyConfig(), agent.Config{BatchSize: 100, BatchInterval: time.Hour})
	_, err := b.Register(AgentID)
	require.NoError(t, err)
	sink, err := b.Register("sink")
	require.NoError(t, err)
	b.Subscribe("sink", model.KindTradeProposal, model.KindStrategyUpdate)
	return a, sink, b
}

func handle(t *testing.T, a *Agent, payload model.Payload) {
	t.Helper()
	require.NoError(t, a.HandleMessage(context.Background(), model.Message{
		Kind:    payload.Kind(),
		Sender:  "test",
		Payload: payload,
	}))
}

func cycle(t *testing.T, a *Agent) {
	t.Helper()
	a.lastRun = time.Time{}
	_, err := a.ProcessCycle(context.Background())
	require.NoError(t, err)
	a.Flush()
}

func signal(symbol string, dir model.Direction, conf model.Confidence) model.TechnicalSignal {
	return model.TechnicalSignal{
		Symbol:     symbol,
		Timeframe:  model.TimeframeH1,
		Indicator:  model.IndicatorMomentum,
		Direction:  dir,
		Confidence: conf,
		Timestamp:  time.Now().UTC(),
	}
}

func TestCorrelate_FundamentalAdjustments(t *testing.T) {
	a, _, _ := newTestAgent(t)
	long := signal("EUR/USD", model.Long, model.ConfidenceMedium) // base score 0.5

	require.InDelta(t, 0.5, a.correlate(long), 1e-9, "no fundamentals, raw score")

	// Bullish EUR news supports a long on EUR/USD.
	handle(t, a, model.FundamentalUpdate{Event: "ECB", Currencies: []string{"EUR"},
		Impact: model.Long, Confidence: model.ConfidenceHigh})
	require.InDelta(t, 0.65, a.correlate(long), 1e-9)

	// Bearish USD news also supports the long; both aligned doubles the
	// total adjustment.
	handle(t, a, model.FundamentalUpdate{Event: "NFP", Currencies: []string{"USD"},
		Impact: model.Short, Confidence: model.ConfidenceHigh})
	require.InDelta(t, 1.0, a.correlate(long), 1e-9, "0.5 + 2*0.3 clamped to 1")

	// Conflicting news on the quote side subtracts.
	handle(t, a, model.FundamentalUpdate{Event: "Fed", Currencies: []string{"USD"},
		Impact: model.Long, Confidence: model.ConfidenceHigh})
	require.InDelta(t, 0.5, a.correlate(long), 1e-9, "+0.15 EUR, -0.15 USD")
}

func TestProcessCycle_GeneratesProposal(t *testing.T) {
	a, sink, _ := newTestAgent(t)

	handle(t, a, signal("EUR/USD", model.Long, model.ConfidenceVeryHigh))
	cycle(t, a)

	msg, ok := sink.TryPop()
	require.True(t, ok)
	p := msg.Payload.(model.TradeProposal)
	require.Equal(t, "EUR/USD", p.Symbol)
	require.Equal(t, model.Long, p.Direction)
	require.Equal(t, float64(10000), p.Size)
	require.Equal(t, "momentum", p.Strategy)
	require.Equal(t, time.Hour, p.TimeLimit)
	require.Contains(t, p.ID, "prop-")

	status, tracked := a.Status(p.ID)
	require.True(t, tracked)
	require.Equal(t, model.StatusProposed, status)

	// The symbol is in flight: no second proposal until it settles.
	handle(t, a, signal("EUR/USD", model.Long, model.ConfidenceVeryHigh))
	cycle(t, a)
	require.Zero(t, sink.Len())

	// Rejection settles it and the next cycle may propose again.
	handle(t, a, model.TradeRejection{ProposalID: p.ID, Reason: "test"})
	handle(t, a, signal("EUR/USD", model.Long, model.ConfidenceVeryHigh))
	cycle(t, a)
	require.Equal(t, 1, sink.Len())
}

func TestProcessCycle_FiltersWeakAndStaleSignals(t *testing.T) {
	a, sink, _ := newTestAgent(t)

	// 0.3 score is under the 0.6 gate.
	handle(t, a, signal("EUR/USD", model.Long, model.ConfidenceLow))
	// Neutral direction never trades.
	handle(t, a, signal("GBP/USD", model.Neutral, model.ConfidenceVeryHigh))
	// Stale signal is evicted.
	stale := signal("USD/JPY", model.Long, model.ConfidenceVeryHigh)
	stale.Timestamp = time.Now().UTC().Add(-time.Hour)
	handle(t, a, stale)

	cycle(t, a)
	require.Zero(t, sink.Len())
	require.NotContains(t, a.signals, "USD/JPY")
}

func TestProcessCycle_SignalFreshnessConfigurable(t *testing.T) {
	b := broker.New(broker.Config{CacheTTL: time.Second})
	cfg := testStrategyConfig()
	cfg.SignalFreshness = 30 * time.Minute
	a := New(b, cfg, agent.Config{BatchSize: 100, BatchInterval: time.Hour})
	_, err := b.Register(AgentID)
	require.NoError(t, err)
	sink, err := b.Register("sink")
	require.NoError(t, err)
	b.Subscribe("sink", model.KindTradeProposal)

	// Ten minutes old: stale under the default window, fresh under the
	// configured one.
	aged := signal("EUR/USD", model.Long, model.ConfidenceVeryHigh)
	aged.Timestamp = time.Now().UTC().Add(-10 * time.Minute)
	handle(t, a, aged)

	cycle(t, a)
	require.Equal(t, 1, sink.Len(), "widened freshness window keeps the signal")
}

func TestCircuitBreaker_HaltsProposalGeneration(t *testing.T) {
	a, sink, _ := newTestAgent(t)

	handle(t, a, model.SystemStatus{Event: model.EventCircuitBreaker})
	handle(t, a, signal("EUR/USD", model.Long, model.ConfidenceVeryHigh))
	cycle(t, a)
	require.Zero(t, sink.Len())
}

func TestRecordResult_UpdatesPerformance(t *testing.T) {
	a, _, _ := newTestAgent(t)

	handle(t, a, model.TradeResult{
		ExecutionID: "exec-1", ProposalID: "p1", Symbol: "EUR/USD",
		Strategy: "momentum", Profit: 250, Reason: model.ExitTake,
	})
	handle(t, a, model.TradeResult{
		ExecutionID: "exec-2", ProposalID: "p2", Symbol: "EUR/USD",
		Strategy: "momentum", Profit: -100, Reason: model.ExitStop,
	})

	perf, ok := a.PerformanceOf("momentum")
	require.True(t, ok)
	require.Equal(t, 2, perf.Trades)
	require.InDelta(t, 0.5, perf.WinRate(), 1e-9)
	require.InDelta(t, 2.5, perf.ProfitFactor(), 1e-9)
	require.Equal(t, float64(250), perf.AverageWin())
	require.Equal(t, float64(100), perf.AverageLoss())
}

func TestTune_RaisesThresholdOnPoorWinRate(t *testing.T) {
	a, sink, _ := newTestAgent(t)

	// Ten straight losses trigger a tuning pass.
	for i := 0; i < tuneEvery; i++ {
		handle(t, a, model.TradeResult{
			ExecutionID: "exec", ProposalID: "p", Symbol: "EUR/USD",
			Strategy: "momentum", Profit: -50, Reason: model.ExitStop,
		})
	}
	a.Flush()

	require.InDelta(t, 0.65, a.threshold("momentum"), 1e-9)

	var update model.StrategyUpdate
	found := false
	for {
		msg, ok := sink.TryPop()
		if !ok {
			break
		}
		if u, ok := msg.Payload.(model.StrategyUpdate); ok {
			update = u
			found = true
		}
	}
	require.True(t, found, "tuning broadcasts a strategy_update")
	require.Equal(t, "momentum", update.Strategy)
	require.InDelta(t, 0.65, update.Parameters[confidenceThresholdKey], 1e-9)
}

func TestPerformance_RecentCapped(t *testing.T) {
	p := &Performance{}
	for i := 0; i < recentTradeLimit+20; i++ {
		p.Record(float64(i))
	}
	require.Len(t, p.Recent, recentTradeLimit)
	require.Equal(t, float64(20), p.Recent[0])
}

func TestState_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	state := NewState()
	state.perf("momentum").Record(100)
	state.params("momentum")[confidenceThresholdKey] = 0.7
	require.NoError(t, state.Save(path))

	loaded := LoadState(path)
	require.Equal(t, 1, loaded.Performance["momentum"].Trades)
	require.Equal(t, 0.7, loaded.Parameters["momentum"][confidenceThresholdKey])
}

func TestState_CorruptFileRecovers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	state := LoadState(path)
	require.NotNil(t, state)
	require.Empty(t, state.Performance)
	require.Empty(t, state.Parameters)
}

func TestState_MissingFileStartsFresh(t *testing.T) {
	state := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	require.NotNil(t, state)
	require.Empty(t, state.Performance)
}
