package broker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradefabric/tradefabric/internal/model"
)

func newTestBroker() *Broker {
	return New(Config{CacheTTL: 100 * time.Millisecond})
}

func statusMsg(sender string, recipients ...string) model.Message {
	return model.Message{
		Kind:       model.KindSystemStatus,
		Sender:     sender,
		Recipients: recipients,
		Payload:    model.SystemStatus{Event: model.EventShutdown, Timestamp: time.Now().UTC()},
	}
}

func TestBroker_RegisterDuplicate(t *testing.T) {
	b := newTestBroker()

	_, err := b.Register("risk")
	require.NoError(t, err)

	_, err = b.Register("risk")
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestBroker_RegisterOrGetReusesInbox(t *testing.T) {
	b := newTestBroker()

	first, err := b.Register("exec")
	require.NoError(t, err)

	second := b.RegisterOrGet("exec")
	require.Same(t, first, second)

	third := b.RegisterOrGet("strat")
	require.NotSame(t, first, third)
}

func TestBroker_PublishAssignsMonotonicIDs(t *testing.T) {
	b := newTestBroker()
	_, err := b.Register("a")
	require.NoError(t, err)
	inbox, err := b.Register("b")
	require.NoError(t, err)

	id1 := b.Publish(statusMsg("a", "b"))
	id2 := b.Publish(statusMsg("a", "b"))
	require.Equal(t, "msg-1", id1)
	require.Equal(t, "msg-2", id2)

	m1, ok := inbox.TryPop()
	require.True(t, ok)
	require.Equal(t, id1, m1.ID)
	require.False(t, m1.Timestamp.IsZero())
}

// FIFO per (sender, receiver) pair.
func TestBroker_FIFOPerPair(t *testing.T) {
	b := newTestBroker()
	_, err := b.Register("sender")
	require.NoError(t, err)
	inbox, err := b.Register("receiver")
	require.NoError(t, err)

	const n = 100
	var want []string
	for i := 0; i < n; i++ {
		want = append(want, b.Publish(statusMsg("sender", "receiver")))
	}

	require.Equal(t, n, inbox.Len())
	for i := 0; i < n; i++ {
		msg, ok := inbox.TryPop()
		require.True(t, ok)
		require.Equal(t, want[i], msg.ID)
	}
}

// Broadcasts never land in the sender's own inbox.
func TestBroker_NoSelfDelivery(t *testing.T) {
	b := newTestBroker()
	senderInbox, err := b.Register("a")
	require.NoError(t, err)
	otherInbox, err := b.Register("b")
	require.NoError(t, err)

	b.Subscribe("a", model.KindSystemStatus)
	b.Subscribe("b", model.KindSystemStatus)

	b.Publish(statusMsg("a"))

	require.Equal(t, 0, senderInbox.Len())
	require.Equal(t, 1, otherInbox.Len())
}

// After unsubscribe no broadcast of that kind reaches the agent, even when a
// snapshot from before the unsubscribe would still be within its TTL.
func TestBroker_SubscriptionHygiene(t *testing.T) {
	b := New(Config{CacheTTL: time.Hour})
	_, err := b.Register("pub")
	require.NoError(t, err)
	inbox, err := b.Register("sub")
	require.NoError(t, err)

	b.Subscribe("sub", model.KindRiskUpdate)
	b.Publish(model.Message{Kind: model.KindRiskUpdate, Sender: "pub",
		Payload: model.RiskUpdate{Timestamp: time.Now().UTC()}})
	require.Equal(t, 1, inbox.Len())

	b.Unsubscribe("sub", model.KindRiskUpdate)
	b.Publish(model.Message{Kind: model.KindRiskUpdate, Sender: "pub",
		Payload: model.RiskUpdate{Timestamp: time.Now().UTC()}})
	require.Equal(t, 1, inbox.Len(), "broadcast after unsubscribe must not be delivered")
}

// Direct messages reach exactly the registered subset of the recipient list.
func TestBroker_DirectAddressing(t *testing.T) {
	b := newTestBroker()
	_, err := b.Register("strat")
	require.NoError(t, err)
	riskInbox, err := b.Register("risk")
	require.NoError(t, err)
	execInbox, err := b.Register("exec")
	require.NoError(t, err)

	b.Publish(statusMsg("strat", "risk", "exec", "ghost"))

	require.Equal(t, 1, riskInbox.Len())
	require.Equal(t, 1, execInbox.Len())
	require.False(t, b.Registered("ghost"))
}

func TestBroker_DirectSkipsSubscriptionIndex(t *testing.T) {
	b := newTestBroker()
	_, err := b.Register("a")
	require.NoError(t, err)
	bInbox, err := b.Register("b")
	require.NoError(t, err)
	cInbox, err := b.Register("c")
	require.NoError(t, err)
	b.Subscribe("c", model.KindSystemStatus)

	// Addressed to b only; c's subscription must not pull it in.
	b.Publish(statusMsg("a", "b"))

	require.Equal(t, 1, bInbox.Len())
	require.Equal(t, 0, cInbox.Len())
}

// publish_batch lands as a contiguous, ordered run for every eligible
// receiver, with no interleaving from a concurrent publisher.
func TestBroker_BatchContiguity(t *testing.T) {
	b := newTestBroker()
	_, err := b.Register("exec")
	require.NoError(t, err)
	_, err = b.Register("noise")
	require.NoError(t, err)

	sub1, err := b.Register("sub1")
	require.NoError(t, err)
	sub2, err := b.Register("sub2")
	require.NoError(t, err)
	b.Subscribe("sub1", model.KindTradeExecution)
	b.Subscribe("sub2", model.KindTradeExecution)

	batch := make([]model.Message, 3)
	for i := range batch {
		batch[i] = model.Message{
			Kind:   model.KindTradeExecution,
			Sender: "exec",
			Payload: model.TradeExecution{
				ExecutionID: fmt.Sprintf("exec-%d", i+1),
				Status:      model.StatusExecuted,
			},
		}
	}

	// Concurrent publisher racing the batch. Its messages may appear before
	// or after the batch but never inside it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			b.Publish(model.Message{Kind: model.KindTradeExecution, Sender: "noise",
				Payload: model.TradeExecution{ExecutionID: "noise", Status: model.StatusExecuted}})
		}
	}()

	ids := b.PublishBatch(batch)
	<-done
	require.Len(t, ids, 3)

	for _, inbox := range []*Inbox{sub1, sub2} {
		var batchSeen []string
		inBatch := false
		for {
			msg, ok := inbox.TryPop()
			if !ok {
				break
			}
			exec := msg.Payload.(model.TradeExecution)
			if exec.ExecutionID == "noise" {
				require.False(t, inBatch && len(batchSeen) < 3,
					"noise message interleaved inside the batch")
				continue
			}
			inBatch = true
			batchSeen = append(batchSeen, exec.ExecutionID)
		}
		require.Equal(t, []string{"exec-1", "exec-2", "exec-3"}, batchSeen)
	}
}

func TestBroker_BatchGroupsDirectAndBroadcast(t *testing.T) {
	b := newTestBroker()
	_, err := b.Register("exec")
	require.NoError(t, err)
	riskInbox, err := b.Register("risk")
	require.NoError(t, err)
	stratInbox, err := b.Register("strat")
	require.NoError(t, err)
	b.Subscribe("strat", model.KindTradeResult)

	batch := []model.Message{
		{Kind: model.KindTradeResult, Sender: "exec",
			Payload: model.TradeResult{ExecutionID: "exec-1"}},
		{Kind: model.KindTradeExecution, Sender: "exec", Recipients: []string{"risk"},
			Payload: model.TradeExecution{ExecutionID: "exec-1", Status: model.StatusExecuted}},
	}
	b.PublishBatch(batch)

	require.Equal(t, 1, stratInbox.Len())
	require.Equal(t, 1, riskInbox.Len())
}

func TestBroker_UnregisterPurgesSubscriptions(t *testing.T) {
	b := newTestBroker()
	_, err := b.Register("pub")
	require.NoError(t, err)
	_, err = b.Register("sub")
	require.NoError(t, err)
	b.Subscribe("sub", model.KindMarketData, model.KindTradeResult)

	b.Unregister("sub")

	require.Empty(t, b.Subscribers(model.KindMarketData))
	require.Empty(t, b.Subscribers(model.KindTradeResult))
	require.False(t, b.Registered("sub"))

	// Publishing afterwards must not panic or deliver anywhere.
	b.Publish(model.Message{Kind: model.KindMarketData, Sender: "pub",
		Payload: model.MarketData{Symbol: "EUR/USD"}})
}

func TestBroker_SubscribeUnregisteredIgnored(t *testing.T) {
	b := newTestBroker()
	b.Subscribe("ghost", model.KindMarketData)
	require.Empty(t, b.Subscribers(model.KindMarketData))
}

func TestBroker_SnapshotCacheRefreshesOnSubscribe(t *testing.T) {
	b := New(Config{CacheTTL: time.Hour})
	_, err := b.Register("pub")
	require.NoError(t, err)
	early, err := b.Register("early")
	require.NoError(t, err)
	late, err := b.Register("late")
	require.NoError(t, err)

	b.Subscribe("early", model.KindMarketData)
	b.Publish(model.Message{Kind: model.KindMarketData, Sender: "pub",
		Payload: model.MarketData{Symbol: "EUR/USD"}})
	require.Equal(t, 1, early.Len())

	// New subscriber must be visible on the next publish despite the long TTL.
	b.Subscribe("late", model.KindMarketData)
	b.Publish(model.Message{Kind: model.KindMarketData, Sender: "pub",
		Payload: model.MarketData{Symbol: "EUR/USD"}})
	require.Equal(t, 2, early.Len())
	require.Equal(t, 1, late.Len())
}

func TestBroker_BoundedInboxBackPressure(t *testing.T) {
	b := New(Config{CacheTTL: time.Second, InboxCapacity: 1})
	_, err := b.Register("pub")
	require.NoError(t, err)
	inbox, err := b.Register("slow")
	require.NoError(t, err)

	b.Publish(statusMsg("pub", "slow"))

	blocked := make(chan struct{})
	go func() {
		b.Publish(statusMsg("pub", "slow"))
		close(blocked)
	}()

	select {
	case <-blocked:
		require.Fail(t, "publish to a full bounded inbox should block")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := inbox.TryPop()
	require.True(t, ok)

	select {
	case <-blocked:
	case <-time.After(time.Second):
		require.Fail(t, "publish should unblock after a pop")
	}
}

func TestBroker_UnregisterUnblocksPublisher(t *testing.T) {
	b := New(Config{CacheTTL: time.Second, InboxCapacity: 1})
	_, err := b.Register("pub")
	require.NoError(t, err)
	_, err = b.Register("slow")
	require.NoError(t, err)

	b.Publish(statusMsg("pub", "slow"))

	released := make(chan struct{})
	go func() {
		b.Publish(statusMsg("pub", "slow"))
		close(released)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Unregister("slow")

	select {
	case <-released:
	case <-time.After(time.Second):
		require.Fail(t, "unregister should release blocked publishers")
	}
}

func TestBroker_ConcurrentPublishKeepsPairOrder(t *testing.T) {
	b := newTestBroker()
	inbox, err := b.Register("sink")
	require.NoError(t, err)

	const senders = 4
	const perSender = 200
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		sender := fmt.Sprintf("sender-%d", s)
		_, err := b.Register(sender)
		require.NoError(t, err)
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				b.Publish(model.Message{
					Kind:       model.KindMarketData,
					Sender:     sender,
					Recipients: []string{"sink"},
					Payload:    model.MarketData{Symbol: "EUR/USD", Volume: float64(i)},
				})
			}
		}(sender)
	}
	wg.Wait()

	require.Equal(t, senders*perSender, inbox.Len())
	lastSeen := make(map[string]float64)
	for {
		msg, ok := inbox.TryPop()
		if !ok {
			break
		}
		seq := msg.Payload.(model.MarketData).Volume
		if prev, seen := lastSeen[msg.Sender]; seen {
			require.Greater(t, seq, prev, "out of order for %s", msg.Sender)
		}
		lastSeen[msg.Sender] = seq
	}
}
