// Package system assembles the trading fabric: one broker, the simulated
// market feed, and the six agents, wired together and started in dependency
// order.
package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/agents/assetselection"
	"github.com/tradefabric/tradefabric/internal/agents/execution"
	"github.com/tradefabric/tradefabric/internal/agents/fundamental"
	"github.com/tradefabric/tradefabric/internal/agents/risk"
	"github.com/tradefabric/tradefabric/internal/agents/strategy"
	"github.com/tradefabric/tradefabric/internal/agents/technical"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/gateway"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// controlSender is the wire id of the supervisor itself.
const controlSender = "system"

// runner is the common lifecycle surface of every agent.
type runner interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// System owns the broker, the market and every agent.
type System struct {
	cfg    config.Config
	broker *broker.Broker
	market *gateway.Simulation
	feed   *Feed

	technical   *technical.Agent
	fundamental *fundamental.Agent
	strategy    *strategy.Agent
	risk        *risk.Agent
	assets      *assetselection.Agent
	execution   *execution.Agent

	// Start order; stopped in reverse.
	agents []runner
}

// New wires the full system from config. Nothing runs until Start.
func New(cfg config.Config) (*System, error) {
	b := broker.New(broker.Config{
		CacheTTL:      cfg.Broker.CacheTTL,
		InboxCapacity: cfg.Broker.InboxCapacity,
	})

	market, err := newMarket(cfg.Execution)
	if err != nil {
		return nil, err
	}

	rt := agent.Config{
		BatchSize:     cfg.Runtime.BatchSize,
		BatchInterval: cfg.Runtime.BatchInterval,
		ErrorBackoff:  cfg.Runtime.ErrorBackoff,
		IdleYield:     cfg.Runtime.IdleYield,
	}

	s := &System{
		cfg:         cfg,
		broker:      b,
		market:      market,
		technical:   technical.New(b, cfg.Technical, rt),
		fundamental: fundamental.New(b, cfg.Fundamental, rt),
		strategy:    strategy.New(b, cfg.Strategy, rt),
		risk:        risk.New(b, cfg.Risk, rt),
		assets:      assetselection.New(b, cfg.Asset, rt),
		execution:   execution.New(b, market, cfg.Execution, rt),
	}
	// Consumers before producers: by the time proposals flow, risk and
	// execution are already listening.
	s.agents = []runner{
		s.assets,
		s.risk,
		s.execution,
		s.strategy,
		s.technical,
		s.fundamental,
	}

	feedSymbols := cfg.Technical.Symbols
	if len(feedSymbols) == 0 {
		feedSymbols = cfg.Asset.PrimarySymbols
	}
	simCfg := gateway.DefaultSimulationConfig()
	s.feed = NewFeed(b, market, feedSymbols, simCfg.Spread, cfg.Execution.UpdateInterval)

	return s, nil
}

// newMarket builds the gateway adapter named by the config.
func newMarket(cfg config.ExecutionConfig) (*gateway.Simulation, error) {
	if cfg.GatewayType != "simulation" {
		return nil, fmt.Errorf("unsupported gateway type %q", cfg.GatewayType)
	}
	simCfg := gateway.DefaultSimulationConfig()
	simCfg.Slippage = gateway.SlippageModel(cfg.SlippageModel)
	simCfg.SlippageMagnitude = cfg.SlippageMagnitude
	return gateway.NewSimulation(simCfg), nil
}

// Start brings up every agent and then the market feed. A failed agent start
// rolls back the ones already running.
func (s *System) Start(ctx context.Context) error {
	log.Info(log.CatSystem, "system starting", "agents", len(s.agents))
	for i, r := range s.agents {
		if err := r.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = s.agents[j].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", r.ID(), err)
		}
	}
	s.feed.Start(ctx)
	log.Info(log.CatSystem, "system running")
	return nil
}

// Stop broadcasts the shutdown notice, halts the feed and stops the agents
// in reverse start order.
func (s *System) Stop(ctx context.Context) error {
	log.Info(log.CatSystem, "system stopping")
	s.broker.Publish(model.Message{
		Kind:   model.KindSystemStatus,
		Sender: controlSender,
		Payload: model.SystemStatus{
			Event:     model.EventShutdown,
			Timestamp: time.Now().UTC(),
		},
		Timestamp: time.Now().UTC(),
	})
	s.feed.Stop()

	var errs []error
	for i := len(s.agents) - 1; i >= 0; i-- {
		if err := s.agents[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", s.agents[i].ID(), err))
		}
	}
	log.Info(log.CatSystem, "system stopped")
	return errors.Join(errs...)
}

// Broker exposes the message fabric, for observers and tooling.
func (s *System) Broker() *broker.Broker { return s.broker }

// Market exposes the simulated gateway.
func (s *System) Market() *gateway.Simulation { return s.market }
