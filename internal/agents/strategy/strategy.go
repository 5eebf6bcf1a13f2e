// Package strategy implements the strategy optimization agent. It correlates
// technical signals with fundamental updates, turns high-confidence
// opportunities into trade proposals, tracks each proposal through the
// workflow, and feeds realized results back into per-strategy performance
// and parameter tuning.
package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
	"github.com/tradefabric/tradefabric/internal/tracing"
)

// AgentID is the wire id of the strategy optimization agent.
const AgentID = "strategy_optimization"

const (
	// defaultSignalFreshness applies when the config leaves the bound unset.
	defaultSignalFreshness = 5 * time.Minute
	// fundamentalBoost is the confidence adjustment per aligned currency.
	fundamentalBoost = 0.15
	// tuneEvery triggers a tuning pass after this many results per strategy.
	tuneEvery = 10
	// confidenceThresholdKey is the tunable per-strategy parameter.
	confidenceThresholdKey = "confidence_threshold"
)

// Agent is the strategy optimization agent.
type Agent struct {
	*agent.Base

	cfg   config.StrategyConfig
	state *State

	signals      map[string]model.TechnicalSignal   // symbol -> freshest signal
	fundamentals map[string]model.FundamentalUpdate // currency -> latest update
	statuses     map[string]model.TradeStatus       // proposal id -> status
	strategyOf   map[string]string                  // proposal id -> strategy label
	inFlight     map[string]string                  // symbol -> open proposal id
	halted       bool
	lastRun      time.Time
}

// New creates the agent. Persisted state is loaded during Setup.
func New(b *broker.Broker, cfg config.StrategyConfig, rt agent.Config) *Agent {
	a := &Agent{
		cfg:          cfg,
		state:        NewState(),
		signals:      make(map[string]model.TechnicalSignal),
		fundamentals: make(map[string]model.FundamentalUpdate),
		statuses:     make(map[string]model.TradeStatus),
		strategyOf:   make(map[string]string),
		inFlight:     make(map[string]string),
	}
	a.Base = agent.NewBase(AgentID, log.CatStrat, b, a, rt)
	return a
}

// Setup loads persisted state and subscribes to the inbound kinds.
func (a *Agent) Setup(context.Context) error {
	if a.cfg.StatePath != "" {
		a.state = LoadState(a.cfg.StatePath)
	}
	a.SubscribeTo(
		model.KindTechnicalSignal,
		model.KindFundamentalUpdate,
		model.KindTradeApproval,
		model.KindTradeRejection,
		model.KindTradeExecution,
		model.KindTradeResult,
		model.KindSystemStatus,
	)
	return nil
}

// HandleMessage routes by payload type.
func (a *Agent) HandleMessage(_ context.Context, msg model.Message) error {
	switch payload := msg.Payload.(type) {
	case model.TechnicalSignal:
		a.signals[payload.Symbol] = payload
	case model.FundamentalUpdate:
		for _, cur := range payload.Currencies {
			a.fundamentals[cur] = payload
		}
	case model.TradeApproval:
		a.transition(payload.ProposalID, model.StatusApproved)
	case model.TradeRejection:
		a.transition(payload.ProposalID, model.StatusRejected)
		a.settle(payload.ProposalID)
	case model.TradeExecution:
		a.transition(payload.ProposalID, payload.Status)
		if payload.Status != model.StatusExecuted {
			a.settle(payload.ProposalID)
		}
	case model.TradeResult:
		a.recordResult(payload)
	case model.SystemStatus:
		if payload.Event == model.EventCircuitBreaker {
			a.halted = true
			log.Warn(log.CatStrat, "proposal generation halted by circuit breaker")
		}
	}
	return nil
}

// ProcessCycle generates proposals from fresh signals once per interval.
func (a *Agent) ProcessCycle(ctx context.Context) (bool, error) {
	now := time.Now().UTC()
	if now.Sub(a.lastRun) < a.cfg.UpdateInterval {
		return false, nil
	}
	a.lastRun = now

	if a.halted {
		return false, nil
	}

	proposed := 0
	for symbol, signal := range a.signals {
		if now.Sub(signal.Timestamp) > a.freshness() {
			delete(a.signals, symbol)
			continue
		}
		if _, open := a.inFlight[symbol]; open {
			continue
		}
		if signal.Direction == model.Neutral {
			continue
		}

		label := string(signal.Indicator)
		confidence := a.correlate(signal)
		if confidence < a.threshold(label) {
			continue
		}

		p := model.TradeProposal{
			ID:         "prop-" + uuid.NewString()[:8],
			Symbol:     symbol,
			Direction:  signal.Direction,
			Size:       a.cfg.DefaultSize,
			Strategy:   label,
			RiskScore:  1 - confidence,
			Confidence: signal.Confidence,
			TimeLimit:  a.cfg.ProposalTimeLimit,
			CreatedAt:  now,
		}
		a.statuses[p.ID] = model.StatusProposed
		a.strategyOf[p.ID] = label
		a.inFlight[symbol] = p.ID

		_, span := tracing.Tracer().Start(ctx, tracing.SpanPrefixTrade+"propose",
			trace.WithAttributes(
				attribute.String(tracing.AttrProposalID, p.ID),
				attribute.String(tracing.AttrSymbol, symbol),
				attribute.String(tracing.AttrDirection, string(signal.Direction)),
				attribute.String(tracing.AttrStrategy, label),
				attribute.Float64(tracing.AttrConfidence, confidence),
			))
		span.AddEvent(tracing.EventProposalCreated)
		span.End()

		a.SendMessage(model.KindTradeProposal, p)
		proposed++
		log.Info(log.CatStrat, "proposal generated",
			"proposal", p.ID, "symbol", symbol, "direction", signal.Direction,
			"strategy", label, "confidence", confidence)
	}
	return proposed > 0, nil
}

// Cleanup persists the strategy state.
func (a *Agent) Cleanup(context.Context) error {
	return a.persist()
}

// correlate combines a technical signal's confidence with the fundamental
// view of both currencies. Each aligned currency adds a boost, each
// conflicting one subtracts it, and when both currencies align the total
// adjustment is doubled.
func (a *Agent) correlate(signal model.TechnicalSignal) float64 {
	confidence := signal.Confidence.Score()
	base, quote := model.SplitSymbol(signal.Symbol)

	adjust := 0.0
	aligned := 0
	for i, cur := range []string{base, quote} {
		update, ok := a.fundamentals[cur]
		if !ok || update.Impact == model.Neutral {
			continue
		}
		// Bullish news for the base supports a long; bullish news for the
		// quote weighs against it.
		supports := update.Impact
		if i == 1 {
			supports = update.Impact.Opposite()
		}
		if supports == signal.Direction {
			adjust += fundamentalBoost
			aligned++
		} else {
			adjust -= fundamentalBoost
		}
	}
	if aligned == 2 {
		adjust *= 2
	}

	confidence += adjust
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// freshness is the configured signal age bound.
func (a *Agent) freshness() time.Duration {
	if a.cfg.SignalFreshness > 0 {
		return a.cfg.SignalFreshness
	}
	return defaultSignalFreshness
}

// threshold returns the proposal gate for a strategy, preferring its tuned
// parameter over the configured default.
func (a *Agent) threshold(strategy string) float64 {
	if v, ok := a.state.Parameters[strategy][confidenceThresholdKey]; ok {
		return v
	}
	return a.cfg.MinConfidence
}

func (a *Agent) recordResult(r model.TradeResult) {
	label := r.Strategy
	if tracked, ok := a.strategyOf[r.ProposalID]; ok {
		label = tracked
	}
	if label == "" {
		log.Warn(log.CatStrat, "result without strategy label dropped",
			"execution", r.ExecutionID)
		return
	}

	a.transition(r.ProposalID, model.StatusClosed)
	a.settle(r.ProposalID)

	perf := a.state.perf(label)
	perf.Record(r.Profit)
	log.Info(log.CatStrat, "result recorded",
		"strategy", label, "profit", r.Profit,
		"win_rate", perf.WinRate(), "profit_factor", perf.ProfitFactor())

	if perf.Trades%tuneEvery == 0 {
		a.tune(label, perf)
	}
	if err := a.persist(); err != nil {
		log.ErrorErr(log.CatStrat, "state persistence failed", err)
	}
}

// tune nudges the confidence gate for a strategy: poor win rates demand
// more conviction, strong ones allow more trades. Announces the change.
func (a *Agent) tune(label string, perf *Performance) {
	params := a.state.params(label)
	threshold := a.threshold(label)
	switch {
	case perf.WinRate() < 0.4:
		threshold += 0.05
	case perf.WinRate() > 0.6 && perf.ProfitFactor() > 1.5:
		threshold -= 0.05
	default:
		return
	}
	if threshold > 0.9 {
		threshold = 0.9
	}
	if threshold < 0.3 {
		threshold = 0.3
	}
	params[confidenceThresholdKey] = threshold

	a.SendMessage(model.KindStrategyUpdate, model.StrategyUpdate{
		Strategy:   label,
		Parameters: map[string]float64{confidenceThresholdKey: threshold},
		WinRate:    perf.WinRate(),
		Timestamp:  time.Now().UTC(),
	})
	log.Info(log.CatStrat, "strategy tuned",
		"strategy", label, "threshold", threshold, "win_rate", perf.WinRate())
}

// settle clears the in-flight marker for the proposal's symbol so a new one
// may be generated.
func (a *Agent) settle(proposalID string) {
	for symbol, id := range a.inFlight {
		if id == proposalID {
			delete(a.inFlight, symbol)
			return
		}
	}
}

func (a *Agent) transition(proposalID string, next model.TradeStatus) {
	if proposalID == "" {
		return
	}
	current, tracked := a.statuses[proposalID]
	if !tracked {
		return
	}
	if !current.CanTransition(next) {
		log.Warn(log.CatStrat, "illegal status transition dropped",
			"proposal", proposalID, "from", current, "to", next)
		return
	}
	a.statuses[proposalID] = next
}

func (a *Agent) persist() error {
	if a.cfg.StatePath == "" {
		return nil
	}
	return a.state.Save(a.cfg.StatePath)
}

// Status returns the tracked status of a proposal id.
func (a *Agent) Status(proposalID string) (model.TradeStatus, bool) {
	s, ok := a.statuses[proposalID]
	return s, ok
}

// PerformanceOf returns the recorded performance for a strategy label.
func (a *Agent) PerformanceOf(strategy string) (Performance, bool) {
	p, ok := a.state.Performance[strategy]
	if !ok {
		return Performance{}, false
	}
	return *p, true
}
