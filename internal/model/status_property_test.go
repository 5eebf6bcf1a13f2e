package model

import (
	"testing"

	"pgregory.net/rapid"
)

var allStatuses = []TradeStatus{
	StatusProposed, StatusApproved, StatusRejected,
	StatusExecuted, StatusCanceled, StatusExpired, StatusClosed,
}

// Any chain of legal transitions only ever moves the status forward and
// never leaves a terminal state.
func TestTradeStatus_TransitionsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		current := StatusProposed
		steps := rapid.IntRange(1, 10).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			next := rapid.SampledFrom(allStatuses).Draw(t, "next")
			if !current.CanTransition(next) {
				continue
			}
			if current.IsTerminal() {
				t.Fatalf("terminal status %s allowed a transition to %s", current, next)
			}
			if next.rank() <= current.rank() {
				t.Fatalf("transition %s -> %s does not move forward", current, next)
			}
			current = next
		}
	})
}
