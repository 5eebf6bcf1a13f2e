package model

import "time"

// TechnicalSignal is a directional hint produced by chart analysis. Signals
// are consumed within a bounded freshness window; stale signals are dropped
// by the consumer.
type TechnicalSignal struct {
	Symbol     string
	Timeframe  Timeframe
	Indicator  Indicator
	Direction  Direction
	Confidence Confidence
	Value      float64
	Timestamp  time.Time
}

func (TechnicalSignal) Kind() Kind { return KindTechnicalSignal }

// FundamentalUpdate is a macro-event assessment. Forecast, Previous and
// Actual are pointers because calendar entries often lack one or more.
type FundamentalUpdate struct {
	Event      string
	Currencies []string
	Impact     Direction
	Confidence Confidence
	Forecast   *float64
	Previous   *float64
	Actual     *float64
	Timestamp  time.Time
}

func (FundamentalUpdate) Kind() Kind { return KindFundamentalUpdate }

// MarketData carries a quote and optionally one closed candle.
type MarketData struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timeframe Timeframe
	Timestamp time.Time
}

// Mid returns the quote midpoint.
func (d MarketData) Mid() float64 { return (d.Bid + d.Ask) / 2 }

func (MarketData) Kind() Kind { return KindMarketData }

// TradeProposal is a requested trade pending risk review. Status is fixed at
// proposed on the wire; later transitions are communicated by separate
// approval/rejection/execution/result messages and tracked per agent.
type TradeProposal struct {
	ID         string
	Symbol     string
	Direction  Direction
	Size       float64
	EntryPrice *float64
	StopLoss   *float64
	TakeProfit *float64
	Strategy   string
	RiskScore  float64
	Confidence Confidence
	TimeLimit  time.Duration
	CreatedAt  time.Time
}

// Deadline is the instant after which an unexecuted proposal expires.
func (p TradeProposal) Deadline() time.Time { return p.CreatedAt.Add(p.TimeLimit) }

// Expired reports whether the proposal's time limit has passed at now.
func (p TradeProposal) Expired(now time.Time) bool {
	return p.TimeLimit > 0 && now.After(p.Deadline())
}

func (TradeProposal) Kind() Kind { return KindTradeProposal }

// TradeApproval carries the risk manager's verdict together with the
// adjusted proposal (possibly smaller size, filled stop/take). Execution
// treats the adjusted proposal as authoritative.
type TradeApproval struct {
	ProposalID string
	Proposal   TradeProposal
	ApprovedAt time.Time
}

func (TradeApproval) Kind() Kind { return KindTradeApproval }

// TradeRejection terminates a proposal with a reason.
type TradeRejection struct {
	ProposalID string
	Reason     string
	RejectedAt time.Time
}

func (TradeRejection) Kind() Kind { return KindTradeRejection }

// TradeExecution records an order placed with (or expired before reaching)
// the gateway.
type TradeExecution struct {
	ProposalID    string
	ExecutionID   string
	Symbol        string
	Direction     Direction
	ExecutedSize  float64
	ExecutedPrice float64
	StopLoss      *float64
	TakeProfit    *float64
	Strategy      string
	Status        TradeStatus
	ExecutedAt    time.Time
}

func (TradeExecution) Kind() Kind { return KindTradeExecution }

// TradeResult is the outcome accounting of a closed position. Exactly one
// result is emitted per execution id.
type TradeResult struct {
	ExecutionID string
	ProposalID  string
	Symbol      string
	Direction   Direction
	EntryPrice  float64
	ExitPrice   float64
	Size        float64
	EntryTime   time.Time
	ExitTime    time.Time
	Profit      float64
	ProfitPips  float64
	Reason      ExitReason
	Strategy    string
}

func (TradeResult) Kind() Kind { return KindTradeResult }

// RiskAssessment is a snapshot of limits and context for one symbol,
// recomputed periodically by the risk agent.
type RiskAssessment struct {
	Symbol          string
	MaxPositionSize float64
	StopLossPips    float64
	TakeProfitPips  float64
	MaxDailyLoss    float64
	Exposure        map[string]float64
	Volatility      float64
}

func (RiskAssessment) Kind() Kind { return KindRiskAssessment }

// RiskUpdate is the periodic broadcast form of a risk assessment.
type RiskUpdate struct {
	Assessment RiskAssessment
	Timestamp  time.Time
}

func (RiskUpdate) Kind() Kind { return KindRiskUpdate }

// System status events used on KindSystemStatus messages.
const (
	EventAssetAvailabilityUpdate   = "asset_availability_update"
	EventAssetAvailabilityRequest  = "asset_availability_request"
	EventAssetAvailabilityResponse = "asset_availability_response"
	EventCircuitBreaker            = "circuit_breaker"
	EventShutdown                  = "shutdown"
)

// SystemStatus is the control-plane payload: availability updates, circuit
// breaker alerts, shutdown notices.
type SystemStatus struct {
	Event             string
	AvailableAssets   []string
	RecommendedAssets []string
	Detail            string
	Timestamp         time.Time
}

func (SystemStatus) Kind() Kind { return KindSystemStatus }

// StrategyUpdate announces tuned strategy parameters after optimization.
type StrategyUpdate struct {
	Strategy   string
	Parameters map[string]float64
	WinRate    float64
	Timestamp  time.Time
}

func (StrategyUpdate) Kind() Kind { return KindStrategyUpdate }

// ErrorNotice reports a failure another agent may care about.
type ErrorNotice struct {
	Source  string
	Context string
	Err     string
}

func (ErrorNotice) Kind() Kind { return KindError }
