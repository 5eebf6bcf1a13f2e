package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// SlippageModel selects how simulated fills deviate from the quoted price.
type SlippageModel string

const (
	SlippageFixed        SlippageModel = "fixed"        // constant price offset
	SlippageProportional SlippageModel = "proportional" // fraction of price
)

// SimulationConfig tunes the simulated market.
type SimulationConfig struct {
	// Prices seeds the mid price per symbol. Symbols absent from the map are
	// unknown to the gateway.
	Prices map[string]float64
	// Spread is the bid/ask distance in price units.
	Spread float64
	// Slippage model and magnitude (price units for fixed, fraction for
	// proportional).
	Slippage          SlippageModel
	SlippageMagnitude float64
	// Volatility scales the random walk step per Tick, as a fraction of
	// price.
	Volatility float64
	// FillRatio in (0,1] simulates partial fills; zero means full fills.
	FillRatio float64
	// FailConnects makes the first N Connect calls fail. Test hook for the
	// backoff path.
	FailConnects int
	// Seed fixes the random walk for reproducible tests. Zero seeds from
	// entropy.
	Seed int64
}

// DefaultSimulationConfig returns a small forex universe with typical
// spreads.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Prices: map[string]float64{
			"EUR/USD": 1.1000,
			"GBP/USD": 1.2700,
			"USD/JPY": 148.50,
			"USD/CHF": 0.8800,
			"AUD/USD": 0.6600,
		},
		Spread:            0.0002,
		Slippage:          SlippageFixed,
		SlippageMagnitude: 0.0001,
		Volatility:        0.0005,
	}
}

type simOrder struct {
	id        string
	symbol    string
	direction model.Direction
	size      float64
}

// Simulation is an in-memory gateway with a random-walk price feed. Safe for
// concurrent use.
type Simulation struct {
	cfg SimulationConfig

	mu        sync.Mutex
	prices    map[string]float64
	orders    map[string]simOrder
	rng       *rand.Rand
	connected bool
	failLeft  int
}

var _ Gateway = (*Simulation)(nil)

// NewSimulation builds a simulation gateway from cfg.
func NewSimulation(cfg SimulationConfig) *Simulation {
	prices := make(map[string]float64, len(cfg.Prices))
	for sym, p := range cfg.Prices {
		prices[sym] = p
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Simulation{
		cfg:      cfg,
		prices:   prices,
		orders:   make(map[string]simOrder),
		rng:      rand.New(rand.NewSource(seed)), //nolint:gosec // G404: simulated market, not crypto
		failLeft: cfg.FailConnects,
	}
}

// Connect succeeds unless configured to fail.
func (s *Simulation) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLeft > 0 {
		s.failLeft--
		return fmt.Errorf("simulated connect failure, %d remaining", s.failLeft)
	}
	s.connected = true
	return nil
}

// Disconnect is best-effort and never fails.
func (s *Simulation) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Connected reports the connection state.
func (s *Simulation) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Tick advances every price by one random-walk step.
func (s *Simulation) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, p := range s.prices {
		step := (s.rng.Float64()*2 - 1) * s.cfg.Volatility * p
		s.prices[sym] = p + step
	}
}

// SetPrice pins a symbol's mid price. Used by tests to force stop or take
// conditions.
func (s *Simulation) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// CurrentPrice returns the mid price for a known symbol.
func (s *Simulation) CurrentPrice(_ context.Context, symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// PlaceOrder fills a market order at the touch plus slippage. Limit orders
// fill at the requested price when it is on the passive side of the touch,
// otherwise they are refused.
func (s *Simulation) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return OrderResult{Err: "not connected"}, fmt.Errorf("place order: not connected")
	}
	mid, ok := s.prices[req.Symbol]
	if !ok {
		return OrderResult{Err: fmt.Sprintf("unknown symbol %s", req.Symbol)}, nil
	}
	if req.Size <= 0 || !req.Direction.Valid() || req.Direction == model.Neutral {
		return OrderResult{Err: "invalid order"}, nil
	}

	price := s.fillPrice(mid, req.Direction)
	if req.Type == OrderLimit && req.Price != nil {
		limit := *req.Price
		if (req.Direction == model.Long && limit < price) ||
			(req.Direction == model.Short && limit > price) {
			return OrderResult{Err: "limit price not reachable"}, nil
		}
		price = limit
	}

	size := req.Size
	if s.cfg.FillRatio > 0 && s.cfg.FillRatio < 1 {
		size = req.Size * s.cfg.FillRatio
	}

	id := "sim-" + uuid.NewString()[:8]
	s.orders[id] = simOrder{id: id, symbol: req.Symbol, direction: req.Direction, size: size}

	log.Debug(log.CatGateway, "simulated fill",
		"order", id, "symbol", req.Symbol, "direction", req.Direction,
		"size", size, "price", price)
	return OrderResult{
		Success:       true,
		OrderID:       id,
		ExecutedPrice: price,
		ExecutedSize:  size,
	}, nil
}

// CloseOrder closes an open order at the opposite touch plus slippage.
func (s *Simulation) CloseOrder(_ context.Context, symbol, orderID string, size float64) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return CloseResult{Err: "not connected"}, fmt.Errorf("close order: not connected")
	}
	order, ok := s.orders[orderID]
	if !ok {
		return CloseResult{Err: fmt.Sprintf("unknown order %s", orderID)}, nil
	}
	mid, ok := s.prices[symbol]
	if !ok {
		return CloseResult{Err: fmt.Sprintf("unknown symbol %s", symbol)}, nil
	}

	// Closing trades against the opposite side of the book.
	price := s.fillPrice(mid, order.direction.Opposite())
	if size >= order.size {
		delete(s.orders, orderID)
	} else {
		order.size -= size
		s.orders[orderID] = order
	}
	return CloseResult{Success: true, ExecutedPrice: price}, nil
}

// ActiveSymbols lists the seeded universe. The market label is ignored by
// the simulation.
func (s *Simulation) ActiveSymbols(context.Context, string) []SymbolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]SymbolInfo, 0, len(s.prices))
	for sym := range s.prices {
		infos = append(infos, SymbolInfo{Symbol: sym, DisplayName: sym})
	}
	return infos
}

// OpenOrders returns the number of tracked open orders.
func (s *Simulation) OpenOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// fillPrice applies half the spread and the slippage model in the taker's
// adverse direction. Caller holds the lock.
func (s *Simulation) fillPrice(mid float64, direction model.Direction) float64 {
	slip := s.cfg.SlippageMagnitude
	if s.cfg.Slippage == SlippageProportional {
		slip = mid * s.cfg.SlippageMagnitude
	}
	adverse := s.cfg.Spread/2 + slip
	if direction == model.Long {
		return mid + adverse
	}
	return mid - adverse
}
