package system

import (
	"context"
	"sync"
	"time"

	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/gateway"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// feedSender is the wire id market data is published under.
const feedSender = "market_feed"

// Feed pumps the simulated market: every interval it advances the random
// walk and broadcasts one market_data message per symbol.
type Feed struct {
	broker   *broker.Broker
	market   *gateway.Simulation
	symbols  []string
	spread   float64
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewFeed builds a feed for the given symbols.
func NewFeed(b *broker.Broker, market *gateway.Simulation, symbols []string, spread float64, interval time.Duration) *Feed {
	return &Feed{
		broker:   b,
		market:   market,
		symbols:  symbols,
		spread:   spread,
		interval: interval,
	}
}

// Start launches the pump goroutine.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.run(ctx)
	log.Info(log.CatSystem, "market feed started",
		"symbols", len(f.symbols), "interval", f.interval)
}

// Stop halts the pump and waits for it to drain.
func (f *Feed) Stop() {
	f.once.Do(func() {
		if f.cancel != nil {
			f.cancel()
			<-f.done
		}
	})
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.publishTick(ctx)
		}
	}
}

func (f *Feed) publishTick(ctx context.Context) {
	f.market.Tick()
	now := time.Now().UTC()

	for _, symbol := range f.symbols {
		mid, ok := f.market.CurrentPrice(ctx, symbol)
		if !ok {
			continue
		}
		half := f.spread / 2
		f.broker.Publish(model.Message{
			Kind:   model.KindMarketData,
			Sender: feedSender,
			Payload: model.MarketData{
				Symbol:    symbol,
				Bid:       mid - half,
				Ask:       mid + half,
				Open:      mid,
				High:      mid + half,
				Low:       mid - half,
				Close:     mid,
				Timeframe: model.TimeframeM5,
				Timestamp: now,
			},
			Timestamp: now,
		})
	}
}
