// Package execution implements the trade execution agent. It turns approved
// proposals into gateway orders, substituting a fallback symbol when the
// requested one is unavailable, then tracks every open position against its
// stop loss, take profit and maximum hold time, emitting exactly one
// trade_result per execution.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/agents/assetselection"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/gateway"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
	"github.com/tradefabric/tradefabric/internal/tracing"
)

// AgentID is the wire id of the trade execution agent.
const AgentID = "trade_execution"

type openPosition struct {
	executionID string
	proposalID  string
	orderID     string
	symbol      string
	direction   model.Direction
	size        float64
	entryPrice  float64
	stopLoss    *float64
	takeProfit  *float64
	strategy    string
	entryTime   time.Time
	maxHold     time.Time
}

// availability is the cached asset availability snapshot.
type availability struct {
	available   map[string]bool
	recommended []string
	fetchedAt   time.Time
}

// Agent is the trade execution agent.
type Agent struct {
	*agent.Base

	cfg config.ExecutionConfig
	gw  gateway.Gateway
	now func() time.Time

	pending   []model.TradeApproval // approvals awaiting a connected gateway
	positions map[string]*openPosition
	emitted   map[string]bool // execution id -> result already emitted
	handled   map[string]bool // proposal id -> approval already processed
	assets    availability
	requested time.Time // last availability refresh request
}

// New creates the agent around a gateway.
func New(b *broker.Broker, gw gateway.Gateway, cfg config.ExecutionConfig, rt agent.Config) *Agent {
	a := &Agent{
		cfg:       cfg,
		gw:        gw,
		now:       time.Now,
		positions: make(map[string]*openPosition),
		emitted:   make(map[string]bool),
		handled:   make(map[string]bool),
	}
	a.Base = agent.NewBase(AgentID, log.CatExec, b, a, rt)
	return a
}

// SetClock overrides the time source. Test hook; call before Start.
func (a *Agent) SetClock(now func() time.Time) { a.now = now }

// Setup connects the gateway with backoff and subscribes to approvals and
// control messages.
func (a *Agent) Setup(ctx context.Context) error {
	if err := gateway.ConnectWithBackoff(ctx, a.gw, a.cfg.ConnectAttempts, a.cfg.ConnectBackoff); err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	a.SubscribeTo(model.KindTradeApproval, model.KindSystemStatus)
	return nil
}

// HandleMessage routes by payload type.
func (a *Agent) HandleMessage(ctx context.Context, msg model.Message) error {
	switch payload := msg.Payload.(type) {
	case model.TradeApproval:
		a.handleApproval(ctx, payload)
	case model.SystemStatus:
		a.handleStatus(payload)
	}
	return nil
}

// ProcessCycle retries pending approvals, refreshes stale availability and
// monitors open positions.
func (a *Agent) ProcessCycle(ctx context.Context) (bool, error) {
	worked := a.drainPending(ctx)
	a.maybeRequestAvailability()
	if a.monitor(ctx) {
		worked = true
	}
	return worked, nil
}

// Cleanup closes every open position with reason shutdown.
func (a *Agent) Cleanup(ctx context.Context) error {
	for _, pos := range a.positions {
		a.close(ctx, pos, model.ExitShutdown)
	}
	return a.gw.Disconnect(ctx)
}

func (a *Agent) handleApproval(ctx context.Context, approval model.TradeApproval) {
	if a.handled[approval.ProposalID] {
		log.Warn(log.CatExec, "duplicate approval ignored", "proposal", approval.ProposalID)
		return
	}
	a.handled[approval.ProposalID] = true

	// Approval after the proposal's deadline: discard, no execution event.
	if approval.Proposal.Expired(a.now().UTC()) {
		log.Warn(log.CatExec, "approval after deadline discarded",
			"proposal", approval.ProposalID, "deadline", approval.Proposal.Deadline())
		return
	}
	a.execute(ctx, approval)
}

func (a *Agent) handleStatus(status model.SystemStatus) {
	switch status.Event {
	case model.EventAssetAvailabilityUpdate, model.EventAssetAvailabilityResponse:
		available := make(map[string]bool, len(status.AvailableAssets))
		for _, sym := range status.AvailableAssets {
			available[sym] = true
		}
		a.assets = availability{
			available:   available,
			recommended: status.RecommendedAssets,
			fetchedAt:   a.now().UTC(),
		}
		log.Debug(log.CatExec, "availability cached",
			"available", len(available), "recommended", len(status.RecommendedAssets))
	}
}

// execute places the order, queuing the approval when the gateway is down.
func (a *Agent) execute(ctx context.Context, approval model.TradeApproval) {
	p := approval.Proposal
	ctx, span := tracing.Tracer().Start(ctx, tracing.SpanPrefixTrade+"execute",
		trace.WithAttributes(
			attribute.String(tracing.AttrProposalID, p.ID),
			attribute.String(tracing.AttrSymbol, p.Symbol),
			attribute.String(tracing.AttrDirection, string(p.Direction)),
			attribute.Float64(tracing.AttrSize, p.Size),
			attribute.String(tracing.AttrStrategy, p.Strategy),
		))
	defer span.End()

	symbol, ok := a.resolveSymbol(p.Symbol)
	if !ok {
		log.Warn(log.CatExec, "no tradable substitute, order canceled",
			"proposal", p.ID, "symbol", p.Symbol)
		span.SetAttributes(attribute.String(tracing.AttrStatus, string(model.StatusCanceled)))
		a.emitExecution(p, p.Symbol, model.StatusCanceled, 0, 0)
		return
	}

	result, err := a.gw.PlaceOrder(ctx, gateway.OrderRequest{
		Symbol:     symbol,
		Direction:  p.Direction,
		Size:       p.Size,
		Type:       gateway.OrderMarket,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
	})
	if err != nil {
		// Transport fault: keep the approval and retry next cycle.
		log.ErrorErr(log.CatExec, "gateway unreachable, order queued", err,
			"proposal", p.ID)
		span.SetStatus(codes.Error, err.Error())
		a.pending = append(a.pending, approval)
		return
	}
	if !result.Success {
		log.Warn(log.CatExec, "order refused",
			"proposal", p.ID, "symbol", symbol, "error", result.Err)
		span.SetStatus(codes.Error, result.Err)
		span.SetAttributes(attribute.String(tracing.AttrStatus, string(model.StatusCanceled)))
		a.emitExecution(p, symbol, model.StatusCanceled, 0, 0)
		return
	}

	now := a.now().UTC()
	executionID := "exec-" + uuid.NewString()[:8]
	pos := &openPosition{
		executionID: executionID,
		proposalID:  p.ID,
		orderID:     result.OrderID,
		symbol:      symbol,
		direction:   p.Direction,
		size:        result.ExecutedSize,
		entryPrice:  result.ExecutedPrice,
		stopLoss:    p.StopLoss,
		takeProfit:  p.TakeProfit,
		strategy:    p.Strategy,
		entryTime:   now,
		maxHold:     now.Add(time.Duration(a.cfg.DefaultHoldMinutes) * time.Minute),
	}
	a.positions[executionID] = pos

	a.SendMessage(model.KindTradeExecution, model.TradeExecution{
		ProposalID:    p.ID,
		ExecutionID:   executionID,
		Symbol:        symbol,
		Direction:     p.Direction,
		ExecutedSize:  result.ExecutedSize,
		ExecutedPrice: result.ExecutedPrice,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		Strategy:      p.Strategy,
		Status:        model.StatusExecuted,
		ExecutedAt:    now,
	})
	span.SetAttributes(attribute.String(tracing.AttrStatus, string(model.StatusExecuted)))
	span.AddEvent(tracing.EventOrderPlaced, trace.WithAttributes(
		attribute.String(tracing.AttrExecutionID, executionID),
		attribute.String(tracing.AttrOrderID, result.OrderID),
	))
	log.Info(log.CatExec, "order executed",
		"proposal", p.ID, "execution", executionID, "symbol", symbol,
		"size", result.ExecutedSize, "price", result.ExecutedPrice)
}

// resolveSymbol returns the tradable symbol for a request. Without an
// availability snapshot every symbol is assumed tradable. A substitute must
// share a currency with the request.
func (a *Agent) resolveSymbol(symbol string) (string, bool) {
	if a.assets.available == nil || a.assets.available[symbol] {
		return symbol, true
	}
	for _, candidate := range a.assets.recommended {
		if a.assets.available[candidate] && model.SharesCurrency(symbol, candidate) {
			log.Info(log.CatExec, "symbol substituted",
				"requested", symbol, "substitute", candidate)
			return candidate, true
		}
	}
	for candidate := range a.assets.available {
		if model.SharesCurrency(symbol, candidate) {
			log.Info(log.CatExec, "symbol substituted",
				"requested", symbol, "substitute", candidate)
			return candidate, true
		}
	}
	return "", false
}

// drainPending retries queued approvals, expiring the stale ones.
func (a *Agent) drainPending(ctx context.Context) bool {
	if len(a.pending) == 0 {
		return false
	}
	queue := a.pending
	a.pending = nil
	now := a.now().UTC()

	for _, approval := range queue {
		if approval.Proposal.Expired(now) {
			log.Warn(log.CatExec, "queued approval expired before execution",
				"proposal", approval.ProposalID)
			a.emitExecution(approval.Proposal, approval.Proposal.Symbol,
				model.StatusExpired, 0, 0)
			continue
		}
		a.execute(ctx, approval)
	}
	return true
}

// emitExecution broadcasts a non-executed terminal execution event.
func (a *Agent) emitExecution(p model.TradeProposal, symbol string, status model.TradeStatus, size, price float64) {
	a.SendMessage(model.KindTradeExecution, model.TradeExecution{
		ProposalID:    p.ID,
		Symbol:        symbol,
		Direction:     p.Direction,
		ExecutedSize:  size,
		ExecutedPrice: price,
		Strategy:      p.Strategy,
		Status:        status,
		ExecutedAt:    a.now().UTC(),
	})
}

// maybeRequestAvailability asks the asset selection agent for a fresh
// snapshot when the cached one has aged out.
func (a *Agent) maybeRequestAvailability() {
	if a.cfg.AvailabilityMaxAge <= 0 {
		return
	}
	now := a.now().UTC()
	if now.Sub(a.assets.fetchedAt) < a.cfg.AvailabilityMaxAge {
		return
	}
	if now.Sub(a.requested) < a.cfg.AvailabilityMaxAge {
		return
	}
	a.requested = now
	a.SendMessage(model.KindSystemStatus, model.SystemStatus{
		Event:     model.EventAssetAvailabilityRequest,
		Timestamp: now,
	}, assetselection.AgentID)
}

// monitor walks open positions and closes any that hit a trigger. The stop
// is checked before the take, so a candle spanning both closes at the stop.
func (a *Agent) monitor(ctx context.Context) bool {
	closed := false
	now := a.now().UTC()
	for _, pos := range a.positions {
		price, ok := a.gw.CurrentPrice(ctx, pos.symbol)
		if !ok {
			continue
		}

		switch {
		case pos.stopLoss != nil && adverseTouch(pos.direction, price, *pos.stopLoss):
			a.close(ctx, pos, model.ExitStop)
			closed = true
		case pos.takeProfit != nil && favorableTouch(pos.direction, price, *pos.takeProfit):
			a.close(ctx, pos, model.ExitTake)
			closed = true
		case now.After(pos.maxHold):
			a.close(ctx, pos, model.ExitExpiry)
			closed = true
		}
	}
	return closed
}

// adverseTouch reports whether price has moved against the position to the
// level: a stop trigger.
func adverseTouch(direction model.Direction, price, level float64) bool {
	if direction == model.Short {
		return price >= level
	}
	return price <= level
}

// favorableTouch reports whether price has moved for the position to the
// level: a take trigger.
func favorableTouch(direction model.Direction, price, level float64) bool {
	if direction == model.Short {
		return price <= level
	}
	return price >= level
}

// close exits the position at the gateway and emits its single result.
func (a *Agent) close(ctx context.Context, pos *openPosition, reason model.ExitReason) {
	ctx, span := tracing.Tracer().Start(ctx, tracing.SpanPrefixTrade+"close",
		trace.WithAttributes(
			attribute.String(tracing.AttrExecutionID, pos.executionID),
			attribute.String(tracing.AttrProposalID, pos.proposalID),
			attribute.String(tracing.AttrSymbol, pos.symbol),
			attribute.String(tracing.AttrExitReason, string(reason)),
		))
	defer span.End()

	result, err := a.gw.CloseOrder(ctx, pos.symbol, pos.orderID, pos.size)
	if err != nil || !result.Success {
		detail := result.Err
		if err != nil {
			detail = err.Error()
		}
		log.Error(log.CatExec, "close failed, will retry",
			"execution", pos.executionID, "error", detail)
		span.SetStatus(codes.Error, detail)
		return
	}

	delete(a.positions, pos.executionID)
	if a.emitted[pos.executionID] {
		return
	}
	a.emitted[pos.executionID] = true

	exit := result.ExecutedPrice
	profit := (exit - pos.entryPrice) * pos.size
	pips := model.Pips(pos.symbol, exit-pos.entryPrice)
	if pos.direction == model.Short {
		profit = -profit
		pips = -pips
	}

	span.SetAttributes(attribute.Float64(tracing.AttrProfit, profit))
	span.AddEvent(tracing.EventPositionClosed)
	a.SendMessage(model.KindTradeResult, model.TradeResult{
		ExecutionID: pos.executionID,
		ProposalID:  pos.proposalID,
		Symbol:      pos.symbol,
		Direction:   pos.direction,
		EntryPrice:  pos.entryPrice,
		ExitPrice:   exit,
		Size:        pos.size,
		EntryTime:   pos.entryTime,
		ExitTime:    a.now().UTC(),
		Profit:      profit,
		ProfitPips:  pips,
		Reason:      reason,
		Strategy:    pos.strategy,
	})
	log.Info(log.CatExec, "position closed",
		"execution", pos.executionID, "symbol", pos.symbol,
		"reason", reason, "profit", profit, "pips", pips)
}

// OpenPositions returns the number of tracked open positions.
func (a *Agent) OpenPositions() int { return len(a.positions) }
