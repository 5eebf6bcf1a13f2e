package model

import "time"

// Kind identifies the schema of a message payload. The set is closed: agents
// subscribe by kind and pattern-match on the payload type.
type Kind string

const (
	KindSystemStatus      Kind = "system_status"
	KindTechnicalSignal   Kind = "technical_signal"
	KindFundamentalUpdate Kind = "fundamental_update"
	KindMarketData        Kind = "market_data"
	KindTradeProposal     Kind = "trade_proposal"
	KindTradeApproval     Kind = "trade_approval"
	KindTradeRejection    Kind = "trade_rejection"
	KindRiskAssessment    Kind = "risk_assessment"
	KindRiskUpdate        Kind = "risk_update"
	KindTradeExecution    Kind = "trade_execution"
	KindTradeResult       Kind = "trade_result"
	KindStrategyUpdate    Kind = "strategy_update"
	KindError             Kind = "error"
)

// AllKinds lists every member of the closed set, for subscription helpers
// and validation.
var AllKinds = []Kind{
	KindSystemStatus, KindTechnicalSignal, KindFundamentalUpdate,
	KindMarketData, KindTradeProposal, KindTradeApproval, KindTradeRejection,
	KindRiskAssessment, KindRiskUpdate, KindTradeExecution, KindTradeResult,
	KindStrategyUpdate, KindError,
}

// Payload is the tagged union over message kinds. Every payload record
// reports the kind it travels under; receivers switch on the concrete type.
type Payload interface {
	Kind() Kind
}

// Message is the immutable envelope routed by the broker. The broker assigns
// ID at publish time; an empty Recipients list means broadcast to every
// subscriber of the kind except the sender.
type Message struct {
	ID         string
	Kind       Kind
	Sender     string
	Recipients []string
	Payload    Payload
	Timestamp  time.Time
}

// Broadcast reports whether the message is addressed to subscribers rather
// than explicit recipients.
func (m Message) Broadcast() bool {
	return len(m.Recipients) == 0
}
