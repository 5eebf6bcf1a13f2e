// Package broker routes typed messages between agents. It owns one FIFO
// inbox per registered agent and a subscription index from message kind to
// interested agent ids. Delivery is direct (explicit recipients) or broadcast
// (every subscriber of the kind except the sender). Subscriber sets are
// snapshotted in a TTL cache so hot broadcast kinds avoid rebuilding the set
// on every publish.
package broker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tradefabric/tradefabric/internal/log"
	"github.com/tradefabric/tradefabric/internal/model"
)

// ErrAlreadyRegistered is returned by Register when the agent id exists.
var ErrAlreadyRegistered = errors.New("agent id already registered")

// Config controls broker behaviour.
type Config struct {
	// CacheTTL bounds the age of subscriber snapshots. Zero disables caching.
	CacheTTL time.Duration
	// InboxCapacity bounds each inbox. Zero means unbounded; when bounded and
	// full, publish blocks the sender.
	InboxCapacity int
}

// DefaultConfig mirrors the shipped defaults: 5s snapshot TTL, unbounded
// inboxes.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Second}
}

// Broker is the single process-wide message router. All methods are safe for
// concurrent use.
type Broker struct {
	mu       sync.RWMutex
	inboxes  map[string]*Inbox
	subs     map[model.Kind]map[string]struct{}
	snapshot *gocache.Cache // kind -> []string subscriber snapshot
	counter  atomic.Uint64
	inboxCap int
}

// New creates a broker with the given config.
func New(cfg Config) *Broker {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Nanosecond // effectively uncached
	}
	return &Broker{
		inboxes:  make(map[string]*Inbox),
		subs:     make(map[model.Kind]map[string]struct{}),
		snapshot: gocache.New(ttl, 2*ttl),
		inboxCap: cfg.InboxCapacity,
	}
}

// Register creates an empty inbox for the agent id and returns it.
// Fails with ErrAlreadyRegistered when the id exists.
func (b *Broker) Register(agentID string) (*Inbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.inboxes[agentID]; exists {
		return nil, fmt.Errorf("register %q: %w", agentID, ErrAlreadyRegistered)
	}
	in := newInbox(b.inboxCap)
	b.inboxes[agentID] = in
	log.Debug(log.CatBroker, "agent registered", "agent", agentID)
	return in, nil
}

// RegisterOrGet is the idempotent variant: an existing id gets its current
// inbox back with a warning instead of an error.
func (b *Broker) RegisterOrGet(agentID string) *Inbox {
	b.mu.Lock()
	defer b.mu.Unlock()

	if in, exists := b.inboxes[agentID]; exists {
		log.Warn(log.CatBroker, "agent already registered, reusing inbox", "agent", agentID)
		return in
	}
	in := newInbox(b.inboxCap)
	b.inboxes[agentID] = in
	log.Debug(log.CatBroker, "agent registered", "agent", agentID)
	return in
}

// Unregister removes the agent's inbox, purges the id from every
// subscription set and invalidates snapshots for the kinds it was
// subscribed to. Unknown ids are a no-op.
func (b *Broker) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	in, exists := b.inboxes[agentID]
	if !exists {
		return
	}
	delete(b.inboxes, agentID)
	in.close()

	for kind, set := range b.subs {
		if _, ok := set[agentID]; ok {
			delete(set, agentID)
			b.snapshot.Delete(string(kind))
		}
	}
	log.Debug(log.CatBroker, "agent unregistered", "agent", agentID)
}

// Registered reports whether the agent id has an inbox.
func (b *Broker) Registered(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.inboxes[agentID]
	return ok
}

// Subscribe adds the agent to each kind's subscriber set. Kinds already
// subscribed are unaffected. Unregistered ids are refused with a warning so a
// dead agent cannot linger in the index.
func (b *Broker) Subscribe(agentID string, kinds ...model.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inboxes[agentID]; !ok {
		log.Warn(log.CatBroker, "subscribe from unregistered agent ignored", "agent", agentID)
		return
	}
	for _, kind := range kinds {
		set, ok := b.subs[kind]
		if !ok {
			set = make(map[string]struct{})
			b.subs[kind] = set
		}
		if _, already := set[agentID]; already {
			continue
		}
		set[agentID] = struct{}{}
		b.snapshot.Delete(string(kind))
	}
}

// Unsubscribe removes the agent from each kind's subscriber set.
func (b *Broker) Unsubscribe(agentID string, kinds ...model.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, kind := range kinds {
		set, ok := b.subs[kind]
		if !ok {
			continue
		}
		if _, subscribed := set[agentID]; !subscribed {
			continue
		}
		delete(set, agentID)
		b.snapshot.Delete(string(kind))
	}
}

// NextMessageID returns the next value of the global monotonic id sequence.
func (b *Broker) NextMessageID() string {
	return fmt.Sprintf("msg-%d", b.counter.Add(1))
}

// Publish assigns the message id and timestamp, resolves recipients and
// enqueues. Direct messages go to each registered recipient except the
// sender; unknown recipients are dropped silently. Broadcasts go to every
// current subscriber of the kind except the sender. Returns the assigned id.
func (b *Broker) Publish(msg model.Message) string {
	msg.ID = b.NextMessageID()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	for _, in := range b.resolve(msg) {
		in.push(msg)
	}
	return msg.ID
}

// PublishBatch assigns ids in order and delivers the whole batch, grouping
// messages per recipient first so each inbox is written in one pass. Per
// recipient, the batch lands contiguously in its internal order. Returns the
// assigned ids.
func (b *Broker) PublishBatch(msgs []model.Message) []string {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, len(msgs))
	now := time.Now().UTC()
	perInbox := make(map[*Inbox][]model.Message)
	var order []*Inbox

	for i := range msgs {
		msgs[i].ID = b.NextMessageID()
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
		ids[i] = msgs[i].ID

		for _, in := range b.resolve(msgs[i]) {
			if _, seen := perInbox[in]; !seen {
				order = append(order, in)
			}
			perInbox[in] = append(perInbox[in], msgs[i])
		}
	}

	for _, in := range order {
		in.pushAll(perInbox[in])
	}
	return ids
}

// resolve returns the inboxes the message should be enqueued to. Inbox
// handles are collected under the read lock and pushed after release, so a
// blocked bounded push never holds the broker lock.
func (b *Broker) resolve(msg model.Message) []*Inbox {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var targets []*Inbox
	if !msg.Broadcast() {
		for _, id := range msg.Recipients {
			if id == msg.Sender {
				continue
			}
			in, ok := b.inboxes[id]
			if !ok {
				log.Debug(log.CatBroker, "recipient not registered, dropped",
					"id", msg.ID, "kind", msg.Kind, "recipient", id)
				continue
			}
			targets = append(targets, in)
		}
		return targets
	}

	for _, id := range b.subscribersLocked(msg.Kind) {
		if id == msg.Sender {
			continue
		}
		if in, ok := b.inboxes[id]; ok {
			targets = append(targets, in)
		}
	}
	return targets
}

// subscribersLocked returns a snapshot of the subscriber ids for a kind,
// served from the TTL cache when fresh. Caller holds at least the read lock.
// The snapshot is a value copy: mutations after invalidation can never tear
// a set a publisher is iterating.
func (b *Broker) subscribersLocked(kind model.Kind) []string {
	if cached, ok := b.snapshot.Get(string(kind)); ok {
		return cached.([]string)
	}

	set := b.subs[kind]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	b.snapshot.Set(string(kind), ids, gocache.DefaultExpiration)
	return ids
}

// Subscribers returns the current subscriber ids for a kind. Intended for
// introspection; delivery uses the cached snapshot path.
func (b *Broker) Subscribers(kind model.Kind) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set := b.subs[kind]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// AgentIDs returns the ids of all registered agents.
func (b *Broker) AgentIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.inboxes))
	for id := range b.inboxes {
		ids = append(ids, id)
	}
	return ids
}
