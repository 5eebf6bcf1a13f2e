// Package fundamental implements the fundamental analysis agent. It walks an
// economic calendar, broadcasting a fundamental_update when a release comes
// due, and grades its own forecast accuracy against trade results.
package fundamental

import (
	"context"
	"strings"
	"time"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// AgentID is the wire id of the fundamental analysis agent.
const AgentID = "fundamental_analysis"

const recentUpdateLimit = 50

// Agent is the fundamental analysis agent.
type Agent struct {
	*agent.Base

	cfg     config.FundamentalConfig
	pending []CalendarEvent // sorted by time, not yet released
	recent  []model.FundamentalUpdate
	lastRun time.Time

	hits   int
	misses int
}

// New creates the agent. The calendar is loaded during Setup.
func New(b *broker.Broker, cfg config.FundamentalConfig, rt agent.Config) *Agent {
	a := &Agent{cfg: cfg}
	a.Base = agent.NewBase(AgentID, log.CatFund, b, a, rt)
	return a
}

// SetCalendar replaces the pending events. Must be called before Start, or
// used by tests in place of a calendar file.
func (a *Agent) SetCalendar(events []CalendarEvent) {
	a.pending = append([]CalendarEvent(nil), events...)
}

// Setup loads the calendar and subscribes to trade results.
func (a *Agent) Setup(context.Context) error {
	if a.cfg.CalendarPath != "" {
		events, err := LoadCalendar(a.cfg.CalendarPath)
		if err != nil {
			return err
		}
		a.pending = events
		log.Info(log.CatFund, "calendar loaded",
			"path", a.cfg.CalendarPath, "events", len(events))
	}
	a.SubscribeTo(model.KindTradeResult, model.KindSystemStatus)
	return nil
}

// HandleMessage grades forecast accuracy from trade results.
func (a *Agent) HandleMessage(_ context.Context, msg model.Message) error {
	result, ok := msg.Payload.(model.TradeResult)
	if !ok {
		return nil
	}
	update, found := a.latestUpdateFor(result.Symbol)
	if !found {
		return nil
	}
	if update.Impact == result.Direction && result.Profit > 0 {
		a.hits++
	} else {
		a.misses++
	}
	return nil
}

// ProcessCycle releases every due calendar event at most once per interval.
func (a *Agent) ProcessCycle(context.Context) (bool, error) {
	now := time.Now().UTC()
	if now.Sub(a.lastRun) < a.cfg.UpdateInterval {
		return false, nil
	}
	a.lastRun = now

	released := 0
	for len(a.pending) > 0 && !a.pending[0].Time.After(now) {
		event := a.pending[0]
		a.pending = a.pending[1:]

		update := a.assess(event, now)
		a.remember(update)
		a.SendMessage(model.KindFundamentalUpdate, update)
		released++
	}
	if released > 0 {
		log.Debug(log.CatFund, "events released", "count", released)
	}
	return released > 0, nil
}

// Cleanup has nothing to release.
func (a *Agent) Cleanup(context.Context) error { return nil }

// Accuracy returns the forecast hit rate over graded results. ok is false
// until at least one result has been graded.
func (a *Agent) Accuracy() (rate float64, ok bool) {
	total := a.hits + a.misses
	if total == 0 {
		return 0, false
	}
	return float64(a.hits) / float64(total), true
}

// assess turns a released event into a directional update. A beat of the
// forecast is bullish for the affected currencies, a miss bearish; without
// both numbers the update is neutral with low confidence.
func (a *Agent) assess(event CalendarEvent, now time.Time) model.FundamentalUpdate {
	impact := model.Neutral
	confidence := model.ConfidenceLow
	if event.Actual != nil && event.Forecast != nil {
		switch {
		case *event.Actual > *event.Forecast:
			impact = model.Long
		case *event.Actual < *event.Forecast:
			impact = model.Short
		}
		confidence = confidenceForImpact(event.Impact)
	}
	return model.FundamentalUpdate{
		Event:      event.Event,
		Currencies: event.Currencies,
		Impact:     impact,
		Confidence: confidence,
		Forecast:   event.Forecast,
		Previous:   event.Previous,
		Actual:     event.Actual,
		Timestamp:  now,
	}
}

func confidenceForImpact(impact string) model.Confidence {
	switch strings.ToLower(impact) {
	case "high":
		return model.ConfidenceHigh
	case "medium":
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func (a *Agent) remember(update model.FundamentalUpdate) {
	a.recent = append(a.recent, update)
	if len(a.recent) > recentUpdateLimit {
		a.recent = a.recent[len(a.recent)-recentUpdateLimit:]
	}
}

// latestUpdateFor finds the most recent update affecting either currency of
// the symbol.
func (a *Agent) latestUpdateFor(symbol string) (model.FundamentalUpdate, bool) {
	base, quote := model.SplitSymbol(symbol)
	for i := len(a.recent) - 1; i >= 0; i-- {
		for _, cur := range a.recent[i].Currencies {
			if cur == base || cur == quote {
				return a.recent[i], true
			}
		}
	}
	return model.FundamentalUpdate{}, false
}
