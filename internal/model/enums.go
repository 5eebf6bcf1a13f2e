// Package model defines the shared data model used on the wire between
// agents: closed enumerations, typed message payloads, and the message
// envelope routed by the broker. Values are immutable once published.
package model

// Direction is the directional bias of a signal or trade.
type Direction string

const (
	Long    Direction = "long"
	Short   Direction = "short"
	Neutral Direction = "neutral"
)

// Opposite returns the inverse direction. Neutral has no inverse.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Neutral
	}
}

// Valid reports whether d is a member of the closed set.
func (d Direction) Valid() bool {
	return d == Long || d == Short || d == Neutral
}

// Confidence grades how strongly a producer believes its own output.
type Confidence string

const (
	ConfidenceVeryLow  Confidence = "very_low"
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceVeryHigh Confidence = "very_high"
)

// Score maps a confidence grade onto [0.1, 0.9] for weighting.
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceVeryLow:
		return 0.1
	case ConfidenceLow:
		return 0.3
	case ConfidenceMedium:
		return 0.5
	case ConfidenceHigh:
		return 0.7
	case ConfidenceVeryHigh:
		return 0.9
	default:
		return 0.5
	}
}

// TradeStatus tracks a proposal through its lifecycle. Statuses only move
// forward: proposed < approved|rejected < executed|expired|canceled < closed.
type TradeStatus string

const (
	StatusProposed TradeStatus = "proposed"
	StatusApproved TradeStatus = "approved"
	StatusRejected TradeStatus = "rejected"
	StatusExecuted TradeStatus = "executed"
	StatusCanceled TradeStatus = "canceled"
	StatusExpired  TradeStatus = "expired"
	StatusClosed   TradeStatus = "closed"
)

// rank encodes the total order used to enforce forward-only transitions.
func (s TradeStatus) rank() int {
	switch s {
	case StatusProposed:
		return 0
	case StatusApproved, StatusRejected:
		return 1
	case StatusExecuted, StatusExpired, StatusCanceled:
		return 2
	case StatusClosed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCanceled, StatusClosed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal step in the
// proposal state machine. Rejected, expired and canceled are terminal;
// executed may only advance to closed.
func (s TradeStatus) CanTransition(next TradeStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next.rank() <= s.rank() {
		return false
	}
	switch s {
	case StatusProposed:
		return next == StatusApproved || next == StatusRejected ||
			next == StatusExpired || next == StatusCanceled
	case StatusApproved:
		return next == StatusExecuted || next == StatusExpired || next == StatusCanceled
	case StatusExecuted:
		return next == StatusClosed
	default:
		return false
	}
}

// Timeframe is the candle aggregation period of chart data.
type Timeframe string

const (
	TimeframeM1  Timeframe = "1m"
	TimeframeM5  Timeframe = "5m"
	TimeframeM15 Timeframe = "15m"
	TimeframeM30 Timeframe = "30m"
	TimeframeH1  Timeframe = "1h"
	TimeframeH4  Timeframe = "4h"
	TimeframeD1  Timeframe = "1d"
	TimeframeW1  Timeframe = "1w"
)

// Indicator identifies the technical study that produced a signal.
type Indicator string

const (
	IndicatorMACrossover Indicator = "ma_crossover"
	IndicatorRSI         Indicator = "rsi"
	IndicatorMACD        Indicator = "macd"
	IndicatorBollinger   Indicator = "bollinger_bands"
	IndicatorATR         Indicator = "atr"
	IndicatorStochastic  Indicator = "stochastic"
	IndicatorMomentum    Indicator = "momentum"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStop     ExitReason = "stop"
	ExitTake     ExitReason = "take"
	ExitExpiry   ExitReason = "expiry"
	ExitShutdown ExitReason = "shutdown"
	ExitManual   ExitReason = "manual"
)
