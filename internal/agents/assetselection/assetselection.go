// Package assetselection implements the asset selection agent. It keeps the
// set of currently tradable symbols from a trading-hours schedule,
// broadcasts availability updates when the set changes, and answers
// addressed availability requests.
package assetselection

import (
	"context"
	"sort"
	"time"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// AgentID is the wire id of the asset selection agent.
const AgentID = "asset_selection"

// Agent is the asset selection agent.
type Agent struct {
	*agent.Base

	cfg      config.AssetConfig
	schedule Schedule
	now      func() time.Time

	lastAvailable []string
	lastRun       time.Time
}

// New creates the agent. The schedule is loaded during Setup.
func New(b *broker.Broker, cfg config.AssetConfig, rt agent.Config) *Agent {
	a := &Agent{cfg: cfg, now: time.Now}
	a.Base = agent.NewBase(AgentID, log.CatAsset, b, a, rt)
	return a
}

// SetClock overrides the time source. Test hook; call before Start.
func (a *Agent) SetClock(now func() time.Time) { a.now = now }

// Setup loads the trading-hours table, falling back to the built-in forex
// week, and subscribes to control messages.
func (a *Agent) Setup(context.Context) error {
	if a.cfg.TradingHoursPath != "" {
		schedule, err := LoadSchedule(a.cfg.TradingHoursPath)
		if err != nil {
			return err
		}
		a.schedule = schedule
	} else {
		a.schedule = DefaultForexSchedule()
	}
	a.SubscribeTo(model.KindSystemStatus)
	return nil
}

// HandleMessage answers addressed availability requests; the response goes
// to the original sender only.
func (a *Agent) HandleMessage(_ context.Context, msg model.Message) error {
	status, ok := msg.Payload.(model.SystemStatus)
	if !ok || status.Event != model.EventAssetAvailabilityRequest {
		return nil
	}

	available, recommended := a.Availability(a.now().UTC())
	a.SendMessage(model.KindSystemStatus, model.SystemStatus{
		Event:             model.EventAssetAvailabilityResponse,
		AvailableAssets:   available,
		RecommendedAssets: recommended,
		Timestamp:         a.now().UTC(),
	}, msg.Sender)
	log.Debug(log.CatAsset, "availability request answered", "requester", msg.Sender)
	return nil
}

// ProcessCycle recomputes availability once per interval and broadcasts an
// update when the set changed.
func (a *Agent) ProcessCycle(context.Context) (bool, error) {
	now := a.now().UTC()
	if now.Sub(a.lastRun) < a.cfg.UpdateInterval {
		return false, nil
	}
	a.lastRun = now

	available, recommended := a.Availability(now)
	if equalSets(available, a.lastAvailable) {
		return false, nil
	}
	a.lastAvailable = available

	a.SendMessage(model.KindSystemStatus, model.SystemStatus{
		Event:             model.EventAssetAvailabilityUpdate,
		AvailableAssets:   available,
		RecommendedAssets: recommended,
		Timestamp:         now,
	})
	log.Info(log.CatAsset, "availability changed",
		"available", len(available), "recommended", len(recommended))
	return true, nil
}

// Cleanup has nothing to release.
func (a *Agent) Cleanup(context.Context) error { return nil }

// Availability returns the tradable symbols at t. Recommended symbols are
// the open primaries, or the open fallbacks when no primary trades.
func (a *Agent) Availability(t time.Time) (available, recommended []string) {
	tolerance := time.Duration(a.cfg.ToleranceMinutes) * time.Minute
	open := a.schedule.IsOpen(t, tolerance)
	if !open {
		return nil, nil
	}

	primaries := append([]string(nil), a.cfg.PrimarySymbols...)
	fallbacks := append([]string(nil), a.cfg.FallbackSymbols...)
	available = append(primaries, fallbacks...)
	sort.Strings(available)

	if len(primaries) > 0 {
		recommended = primaries
	} else {
		recommended = fallbacks
	}
	sort.Strings(recommended)
	return available, recommended
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
