// Package risk implements the risk management agent. It is authoritative on
// position size, stop loss and take profit: every trade proposal is evaluated
// against per-trade risk, position size, currency exposure and the daily loss
// circuit breaker, then answered with an approval carrying the adjusted
// proposal or a rejection with a reason. Active fundamental events on a
// symbol's currencies tighten the assessment before the pipeline runs.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
	"github.com/tradefabric/tradefabric/internal/tracing"
)

// AgentID is the wire id of the risk management agent.
const AgentID = "risk_management"

const (
	minStopPips = 10
	minTakePips = 15
	// minViableSize is the smallest size worth approving after adjustment.
	minViableSize = 1000
	priceWindow   = 50
)

type position struct {
	executionID string
	symbol      string
	direction   model.Direction
	size        float64
	entryPrice  float64
}

// Agent is the risk management agent.
type Agent struct {
	*agent.Base

	cfg config.RiskConfig

	balance   float64
	dailyPnL  float64
	day       int // day-of-year of the last reset
	tripped   bool
	positions    map[string]*position               // execution id -> open position
	statuses     map[string]model.TradeStatus       // proposal id -> tracked status
	prices       map[string][]float64               // symbol -> recent mids
	fundamentals map[string]model.FundamentalUpdate // currency -> latest event view
	lastRun      time.Time
}

// New creates the agent.
func New(b *broker.Broker, cfg config.RiskConfig, rt agent.Config) *Agent {
	a := &Agent{
		cfg:       cfg,
		balance:   cfg.StartingBalance,
		day:       time.Now().UTC().YearDay(),
		positions:    make(map[string]*position),
		statuses:     make(map[string]model.TradeStatus),
		prices:       make(map[string][]float64),
		fundamentals: make(map[string]model.FundamentalUpdate),
	}
	a.Base = agent.NewBase(AgentID, log.CatRisk, b, a, rt)
	return a
}

// Setup subscribes to the workflow and price feeds.
func (a *Agent) Setup(context.Context) error {
	a.SubscribeTo(
		model.KindTradeProposal,
		model.KindTradeExecution,
		model.KindTradeResult,
		model.KindMarketData,
		model.KindFundamentalUpdate,
		model.KindSystemStatus,
	)
	return nil
}

// HandleMessage routes by payload type.
func (a *Agent) HandleMessage(ctx context.Context, msg model.Message) error {
	switch payload := msg.Payload.(type) {
	case model.TradeProposal:
		a.evaluate(ctx, payload)
	case model.TradeExecution:
		a.recordExecution(payload)
	case model.TradeResult:
		a.recordResult(payload)
	case model.MarketData:
		a.recordPrice(payload)
	case model.FundamentalUpdate:
		a.recordFundamental(payload)
	}
	return nil
}

// ProcessCycle resets the day and broadcasts fresh assessments once per
// interval.
func (a *Agent) ProcessCycle(context.Context) (bool, error) {
	a.rollDay(time.Now().UTC())

	now := time.Now().UTC()
	if now.Sub(a.lastRun) < a.cfg.UpdateInterval {
		return false, nil
	}
	a.lastRun = now

	for symbol := range a.prices {
		a.SendMessage(model.KindRiskUpdate, model.RiskUpdate{
			Assessment: a.Assess(symbol),
			Timestamp:  now,
		})
	}
	return len(a.prices) > 0, nil
}

// Cleanup has nothing to release.
func (a *Agent) Cleanup(context.Context) error { return nil }

// evaluate answers one proposal with an approval or a rejection.
func (a *Agent) evaluate(ctx context.Context, p model.TradeProposal) {
	if _, seen := a.statuses[p.ID]; seen {
		log.Warn(log.CatRisk, "duplicate proposal ignored", "proposal", p.ID)
		return
	}
	a.statuses[p.ID] = model.StatusProposed

	_, span := tracing.Tracer().Start(ctx, tracing.SpanPrefixTrade+"evaluate",
		trace.WithAttributes(
			attribute.String(tracing.AttrProposalID, p.ID),
			attribute.String(tracing.AttrSymbol, p.Symbol),
			attribute.String(tracing.AttrDirection, string(p.Direction)),
			attribute.Float64(tracing.AttrSize, p.Size),
		))
	defer span.End()

	adjusted, reason := a.decide(p)
	now := time.Now().UTC()
	if reason != "" {
		a.transition(p.ID, model.StatusRejected)
		span.AddEvent(tracing.EventRiskDecision, trace.WithAttributes(
			attribute.String(tracing.AttrStatus, string(model.StatusRejected)),
			attribute.String(tracing.AttrReason, reason),
		))
		a.SendMessage(model.KindTradeRejection, model.TradeRejection{
			ProposalID: p.ID,
			Reason:     reason,
			RejectedAt: now,
		})
		log.Info(log.CatRisk, "proposal rejected",
			"proposal", p.ID, "symbol", p.Symbol, "reason", reason)
		return
	}

	a.transition(p.ID, model.StatusApproved)
	span.AddEvent(tracing.EventRiskDecision, trace.WithAttributes(
		attribute.String(tracing.AttrStatus, string(model.StatusApproved)),
		attribute.Float64(tracing.AttrSize, adjusted.Size),
	))
	a.SendMessage(model.KindTradeApproval, model.TradeApproval{
		ProposalID: p.ID,
		Proposal:   adjusted,
		ApprovedAt: now,
	})
	log.Info(log.CatRisk, "proposal approved",
		"proposal", p.ID, "symbol", p.Symbol,
		"requested", p.Size, "approved", adjusted.Size)
}

// decide applies the evaluation pipeline. An empty reason means approval
// with the returned adjusted proposal.
func (a *Agent) decide(p model.TradeProposal) (model.TradeProposal, string) {
	if a.tripped {
		return p, "daily loss cap"
	}
	if !p.Direction.Valid() || p.Direction == model.Neutral {
		return p, "no tradable direction"
	}
	if p.Size <= 0 {
		return p, "non-positive size"
	}

	assessment := a.Assess(p.Symbol)
	adjusted := p

	// Position size cap.
	if adjusted.Size > assessment.MaxPositionSize {
		adjusted.Size = assessment.MaxPositionSize
	}

	// Per-trade risk cap: potential loss at the stop must stay under the
	// risk fraction of the account.
	stopPips := assessment.StopLossPips
	if p.EntryPrice != nil && p.StopLoss != nil {
		stopPips = math.Abs(model.Pips(p.Symbol, *p.EntryPrice-*p.StopLoss))
	}
	if stopPips > 0 {
		maxLoss := a.balance * a.cfg.MaxRiskPerTrade
		lossPerUnit := stopPips * model.PipValue(p.Symbol)
		if maxSize := maxLoss / lossPerUnit; adjusted.Size > maxSize {
			adjusted.Size = math.Floor(maxSize)
		}
	}
	if adjusted.Size < minViableSize {
		return p, "size below viable minimum after risk adjustment"
	}

	// Currency exposure cap across open positions.
	limit := a.balance * a.cfg.MaxCurrencyExposure
	base, quote := model.SplitSymbol(p.Symbol)
	for _, cur := range []string{base, quote} {
		if cur == "" {
			continue
		}
		if a.exposure(cur)+adjusted.Size > limit {
			return p, fmt.Sprintf("currency exposure limit for %s", cur)
		}
	}

	// Fill stop and take when the entry reference is known.
	entry := p.EntryPrice
	if entry == nil {
		if last, ok := a.lastPrice(p.Symbol); ok {
			entry = &last
		}
	}
	if entry != nil {
		pip := model.PipValue(p.Symbol)
		if adjusted.StopLoss == nil {
			adjusted.StopLoss = offset(*entry, -assessment.StopLossPips*pip, p.Direction)
		}
		if adjusted.TakeProfit == nil {
			adjusted.TakeProfit = offset(*entry, assessment.TakeProfitPips*pip, p.Direction)
		}
		adjusted.EntryPrice = entry
	}

	return adjusted, ""
}

// offset shifts a long entry by delta and a short entry by -delta.
func offset(entry, delta float64, direction model.Direction) *float64 {
	v := entry + delta
	if direction == model.Short {
		v = entry - delta
	}
	return &v
}

func (a *Agent) recordExecution(e model.TradeExecution) {
	if e.Status != model.StatusExecuted {
		a.transition(e.ProposalID, e.Status)
		return
	}
	a.transition(e.ProposalID, model.StatusExecuted)
	a.positions[e.ExecutionID] = &position{
		executionID: e.ExecutionID,
		symbol:      e.Symbol,
		direction:   e.Direction,
		size:        e.ExecutedSize,
		entryPrice:  e.ExecutedPrice,
	}
}

func (a *Agent) recordResult(r model.TradeResult) {
	if _, open := a.positions[r.ExecutionID]; !open {
		log.Warn(log.CatRisk, "result for unknown execution dropped",
			"execution", r.ExecutionID)
		return
	}
	delete(a.positions, r.ExecutionID)
	a.transition(r.ProposalID, model.StatusClosed)

	a.dailyPnL += r.Profit
	a.balance += r.Profit

	lossCap := a.cfg.StartingBalance * a.cfg.MaxDailyLossFraction
	if !a.tripped && a.dailyPnL <= -lossCap {
		a.tripped = true
		a.SendMessage(model.KindSystemStatus, model.SystemStatus{
			Event:     model.EventCircuitBreaker,
			Detail:    fmt.Sprintf("daily loss %.2f breached cap %.2f", a.dailyPnL, lossCap),
			Timestamp: time.Now().UTC(),
		})
		log.Warn(log.CatRisk, "daily loss circuit breaker tripped",
			"daily_pnl", a.dailyPnL, "cap", lossCap)
	}
}

// recordFundamental keeps the latest event view per affected currency.
func (a *Agent) recordFundamental(u model.FundamentalUpdate) {
	for _, cur := range u.Currencies {
		if cur == "" {
			continue
		}
		a.fundamentals[cur] = u
	}
}

func (a *Agent) recordPrice(d model.MarketData) {
	mids := append(a.prices[d.Symbol], d.Mid())
	if len(mids) > priceWindow {
		mids = mids[len(mids)-priceWindow:]
	}
	a.prices[d.Symbol] = mids
}

func (a *Agent) lastPrice(symbol string) (float64, bool) {
	mids := a.prices[symbol]
	if len(mids) == 0 {
		return 0, false
	}
	return mids[len(mids)-1], true
}

// transition advances a tracked proposal status, refusing illegal moves.
func (a *Agent) transition(proposalID string, next model.TradeStatus) {
	if proposalID == "" {
		return
	}
	current, tracked := a.statuses[proposalID]
	if !tracked {
		a.statuses[proposalID] = next
		return
	}
	if !current.CanTransition(next) {
		log.Warn(log.CatRisk, "illegal status transition dropped",
			"proposal", proposalID, "from", current, "to", next)
		return
	}
	a.statuses[proposalID] = next
}

// exposure sums open position sizes touching the currency.
func (a *Agent) exposure(currency string) float64 {
	total := 0.0
	for _, pos := range a.positions {
		base, quote := model.SplitSymbol(pos.symbol)
		if base == currency || quote == currency {
			total += pos.size
		}
	}
	return total
}

// rollDay resets the daily loss accounting at the UTC day boundary.
func (a *Agent) rollDay(now time.Time) {
	if now.YearDay() == a.day {
		return
	}
	a.day = now.YearDay()
	a.dailyPnL = 0
	if a.tripped {
		a.tripped = false
		log.Info(log.CatRisk, "circuit breaker reset for new day")
	}
}

// Assess builds the current risk snapshot for a symbol. An active
// fundamental event on either currency shrinks the position cap and widens
// the stop and take distances.
func (a *Agent) Assess(symbol string) model.RiskAssessment {
	vol := a.volatility(symbol)
	stopPips := math.Max(minStopPips, math.Round(model.Pips(symbol, vol*2)))
	takePips := math.Max(minTakePips, stopPips*1.5)
	maxPos := a.balance * a.cfg.MaxPositionFraction

	if adj := a.fundamentalAdjustment(symbol); adj > 0 {
		maxPos *= 1 - adj
		stopPips = math.Round(stopPips * (1 + adj))
		takePips *= 1 + adj
	}

	exposure := make(map[string]float64)
	for _, pos := range a.positions {
		base, quote := model.SplitSymbol(pos.symbol)
		exposure[base] += pos.size
		exposure[quote] += pos.size
	}

	return model.RiskAssessment{
		Symbol:          symbol,
		MaxPositionSize: maxPos,
		StopLossPips:    stopPips,
		TakeProfitPips:  takePips,
		MaxDailyLoss:    a.cfg.StartingBalance * a.cfg.MaxDailyLossFraction,
		Exposure:        exposure,
		Volatility:      vol,
	}
}

// fundamentalAdjustment returns the 0..0.5 tightening factor for a symbol:
// half the confidence weight of the strongest directional event touching its
// currencies, doubled when both currencies carry one.
func (a *Agent) fundamentalAdjustment(symbol string) float64 {
	base, quote := model.SplitSymbol(symbol)
	weight := 0.0
	affected := 0
	for _, cur := range []string{base, quote} {
		update, ok := a.fundamentals[cur]
		if !ok || update.Impact == model.Neutral {
			continue
		}
		affected++
		if w := confidenceWeight(update.Confidence); w > weight {
			weight = w
		}
	}
	if affected == 0 {
		return 0
	}
	adj := weight * 0.5
	if affected == 2 {
		adj *= 2
	}
	return math.Min(adj, 0.5)
}

// confidenceWeight maps an event confidence grade onto the adjustment scale.
func confidenceWeight(c model.Confidence) float64 {
	switch c {
	case model.ConfidenceVeryLow:
		return 0.1
	case model.ConfidenceLow:
		return 0.2
	case model.ConfidenceMedium:
		return 0.3
	case model.ConfidenceHigh:
		return 0.4
	case model.ConfidenceVeryHigh:
		return 0.5
	default:
		return 0.1
	}
}

// volatility is the standard deviation of the recent mid prices.
func (a *Agent) volatility(symbol string) float64 {
	mids := a.prices[symbol]
	if len(mids) < 2 {
		return 0
	}
	mean := 0.0
	for _, m := range mids {
		mean += m
	}
	mean /= float64(len(mids))
	variance := 0.0
	for _, m := range mids {
		variance += (m - mean) * (m - mean)
	}
	variance /= float64(len(mids) - 1)
	return math.Sqrt(variance)
}

// Balance returns the current account balance.
func (a *Agent) Balance() float64 { return a.balance }

// DailyPnL returns the realized profit for the current UTC day.
func (a *Agent) DailyPnL() float64 { return a.dailyPnL }

// Tripped reports whether the daily loss circuit breaker is active.
func (a *Agent) Tripped() bool { return a.tripped }

// Status returns the tracked status of a proposal id.
func (a *Agent) Status(proposalID string) (model.TradeStatus, bool) {
	s, ok := a.statuses[proposalID]
	return s, ok
}

// OpenPositions returns the number of tracked open positions.
func (a *Agent) OpenPositions() int { return len(a.positions) }
