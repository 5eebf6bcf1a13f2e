package tracing

// Span attribute keys. These are the semantic conventions for trade workflow
// spans.
const (
	AttrProposalID  = "proposal.id"
	AttrExecutionID = "execution.id"
	AttrOrderID     = "order.id"
	AttrSymbol      = "trade.symbol"
	AttrDirection   = "trade.direction"
	AttrSize        = "trade.size"
	AttrStatus      = "trade.status"
	AttrStrategy    = "trade.strategy"
	AttrExitReason  = "trade.exit_reason"
	AttrProfit      = "trade.profit"
	AttrReason      = "risk.reason"
	AttrConfidence  = "risk.confidence"
)

// SpanPrefixTrade prefixes every trade workflow span name.
const SpanPrefixTrade = "trade."

// Event names for span events.
const (
	EventProposalCreated = "proposal.created"
	EventRiskDecision    = "risk.decision"
	EventOrderPlaced     = "order.placed"
	EventPositionClosed  = "position.closed"
)
