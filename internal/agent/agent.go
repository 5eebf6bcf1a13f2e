// Package agent provides the uniform runtime every agent follows: a
// lifecycle state machine (new, running, stopping, stopped), a cooperative
// loop that interleaves inbox draining with periodic domain work, and
// per-agent outbound batching so trickles of messages coalesce into one
// broker call. Errors inside one agent never stop another agent or the
// broker.
package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// State is the lifecycle state of an agent.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handler is implemented by concrete agents. The base invokes Setup once
// before the loop, HandleMessage for every inbox message, ProcessCycle once
// per loop iteration, and Cleanup once after the loop exits. Panics and
// errors in HandleMessage and ProcessCycle are logged and swallowed.
type Handler interface {
	// Setup runs before the loop starts. An error aborts the start.
	Setup(ctx context.Context) error
	// HandleMessage consumes one inbox message.
	HandleMessage(ctx context.Context, msg model.Message) error
	// ProcessCycle performs one unit of periodic work. worked reports whether
	// anything was done, so an idle agent can yield instead of spinning.
	ProcessCycle(ctx context.Context) (worked bool, err error)
	// Cleanup runs after the loop exits, before unregistration.
	Cleanup(ctx context.Context) error
}

// Config tunes the cooperative loop and outbound batching.
type Config struct {
	BatchSize     int           // inbox drain limit and outbound flush threshold
	BatchInterval time.Duration // max age of a non-empty outbound batch
	ErrorBackoff  time.Duration // sleep after a failed ProcessCycle
	IdleYield     time.Duration // sleep when an iteration did no work
}

// DefaultConfig mirrors the shipped defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     10,
		BatchInterval: 500 * time.Millisecond,
		ErrorBackoff:  time.Second,
		IdleYield:     10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.IdleYield <= 0 {
		c.IdleYield = d.IdleYield
	}
	return c
}

// Base carries the runtime shared by all agents. Concrete agents embed a
// *Base and pass themselves as the Handler.
type Base struct {
	id      string
	cat     log.Category
	broker  *broker.Broker
	inbox   *broker.Inbox
	handler Handler
	cfg     Config

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	out *outbox
}

// NewBase creates an agent runtime. The handler is usually the embedding
// agent itself. Registration with the broker happens at Start.
func NewBase(id string, cat log.Category, b *broker.Broker, handler Handler, cfg Config) *Base {
	base := &Base{
		id:      id,
		cat:     cat,
		broker:  b,
		handler: handler,
		cfg:     cfg.withDefaults(),
		done:    make(chan struct{}),
	}
	base.out = newOutbox(b, base.cfg.BatchSize, base.cfg.BatchInterval)
	return base
}

// ID returns the agent id used on the wire.
func (b *Base) ID() string { return b.id }

// State returns the current lifecycle state.
func (b *Base) State() State { return State(b.state.Load()) }

// Inbox returns the agent's inbox. Nil before Start.
func (b *Base) Inbox() *broker.Inbox { return b.inbox }

// Start registers with the broker, runs Setup and launches the loop. Legal
// only from the new state; a second Start is a no-op with a warning.
func (b *Base) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateNew), int32(StateRunning)) {
		log.Warn(b.cat, "start ignored, agent not in new state",
			"agent", b.id, "state", b.State())
		return nil
	}

	inbox, err := b.broker.Register(b.id)
	if err != nil {
		b.state.Store(int32(StateStopped))
		return fmt.Errorf("start %s: %w", b.id, err)
	}
	b.inbox = inbox

	if err := b.handler.Setup(ctx); err != nil {
		b.broker.Unregister(b.id)
		b.state.Store(int32(StateStopped))
		return fmt.Errorf("setup %s: %w", b.id, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.loop(loopCtx)

	log.Info(b.cat, "agent started", "agent", b.id)
	return nil
}

// Stop flushes the outbound batch, signals the loop, waits for it to exit,
// runs Cleanup and unregisters. Legal from running; a second Stop is a
// no-op.
func (b *Base) Stop(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	b.out.flush()
	b.cancel()

	select {
	case <-b.done:
	case <-ctx.Done():
		log.Warn(b.cat, "stop timed out waiting for loop", "agent", b.id)
	}

	if err := b.handler.Cleanup(ctx); err != nil {
		log.ErrorErr(b.cat, "cleanup failed", err, "agent", b.id)
	}

	// Late sends during cleanup still reach the wire.
	b.out.flush()
	b.out.stop()
	b.broker.Unregister(b.id)
	b.state.Store(int32(StateStopped))
	log.Info(b.cat, "agent stopped", "agent", b.id)
	return nil
}

// SendMessage queues a message for batched publish. Empty recipients means
// broadcast to subscribers of the kind.
func (b *Base) SendMessage(kind model.Kind, payload model.Payload, recipients ...string) {
	b.out.add(model.Message{
		Kind:       kind,
		Sender:     b.id,
		Recipients: recipients,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
}

// Flush forces an immediate publish of the outbound batch.
func (b *Base) Flush() { b.out.flush() }

// SubscribeTo adds this agent to the subscriber sets of the given kinds.
func (b *Base) SubscribeTo(kinds ...model.Kind) {
	b.broker.Subscribe(b.id, kinds...)
}

// UnsubscribeFrom removes this agent from the subscriber sets.
func (b *Base) UnsubscribeFrom(kinds ...model.Kind) {
	b.broker.Unsubscribe(b.id, kinds...)
}

func (b *Base) loop(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := 0
		for _, msg := range b.inbox.Drain(b.cfg.BatchSize) {
			b.safeHandle(ctx, msg)
			processed++
		}

		if processed == 0 {
			b.out.flushIfAged()
		}

		worked, err := b.safeCycle(ctx)
		if err != nil {
			if !sleepCtx(ctx, b.cfg.ErrorBackoff) {
				return
			}
			continue
		}

		if processed == 0 && !worked {
			if !sleepCtx(ctx, b.cfg.IdleYield) {
				return
			}
		}
	}
}

// safeHandle invokes HandleMessage with panic recovery. A failed message is
// considered consumed.
func (b *Base) safeHandle(ctx context.Context, msg model.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(b.cat, "panic in handle_message",
				"agent", b.id, "id", msg.ID, "kind", msg.Kind,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := b.handler.HandleMessage(ctx, msg); err != nil {
		log.ErrorErr(b.cat, "handle_message failed", err,
			"agent", b.id, "id", msg.ID, "kind", msg.Kind)
	}
}

// safeCycle invokes ProcessCycle with panic recovery.
func (b *Base) safeCycle(ctx context.Context) (worked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(b.cat, "panic in process_cycle",
				"agent", b.id, "panic", r, "stack", string(debug.Stack()))
			worked, err = false, fmt.Errorf("panic: %v", r)
		}
	}()

	worked, err = b.handler.ProcessCycle(ctx)
	if err != nil {
		log.ErrorErr(b.cat, "process_cycle failed", err, "agent", b.id)
	}
	return worked, err
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
