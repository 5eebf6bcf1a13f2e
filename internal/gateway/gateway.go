// Package gateway defines the surface the execution agent uses to reach a
// broker, plus a simulation implementation used in tests and demo runs. The
// core treats a gateway as an opaque capability: place, close, quote, list.
package gateway

import (
	"context"
	"time"

	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// OrderType selects how an order is priced.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol     string
	Direction  model.Direction
	Size       float64
	Type       OrderType
	Price      *float64 // limit price, nil for market
	StopLoss   *float64
	TakeProfit *float64
}

// OrderResult reports the outcome of a placement. Err is informational; a
// failed order has Success false and zero execution fields.
type OrderResult struct {
	Success       bool
	OrderID       string
	ExecutedPrice float64
	ExecutedSize  float64
	Err           string
}

// CloseResult reports the outcome of closing an open order.
type CloseResult struct {
	Success       bool
	ExecutedPrice float64
	Err           string
}

// SymbolInfo names one tradable instrument.
type SymbolInfo struct {
	Symbol      string
	DisplayName string
}

// Gateway is the broker-facing capability consumed by the execution agent.
// Implementations retry transient faults internally; errors returned here
// mean retries are exhausted or the fault is permanent.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// CurrentPrice returns the mid price. ok is false for unknown symbols.
	CurrentPrice(ctx context.Context, symbol string) (price float64, ok bool)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CloseOrder(ctx context.Context, symbol, orderID string, size float64) (CloseResult, error)
	// ActiveSymbols lists tradable instruments for a market label. Empty on
	// failure.
	ActiveSymbols(ctx context.Context, market string) []SymbolInfo
}

// ConnectWithBackoff dials g with exponential backoff: initial delay
// doubling per attempt up to maxAttempts. Returns the last error when every
// attempt fails.
func ConnectWithBackoff(ctx context.Context, g Gateway, maxAttempts int, initial time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := initial
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = g.Connect(ctx); err == nil {
			return nil
		}
		log.Warn(log.CatGateway, "connect failed",
			"attempt", attempt, "max", maxAttempts, "error", err.Error())
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
