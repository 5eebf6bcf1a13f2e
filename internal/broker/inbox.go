package broker

import (
	"sync"

	"github.com/tradefabric/tradefabric/internal/model"
)

// Inbox is a per-agent FIFO of pending messages. The broker is the only
// writer; the owning agent is the only reader. A capacity of zero means
// unbounded; a bounded inbox blocks the publisher when full, propagating
// back-pressure up the workflow.
type Inbox struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	queue    []model.Message
	capacity int
	closed   bool
}

func newInbox(capacity int) *Inbox {
	in := &Inbox{capacity: capacity}
	in.notFull = sync.NewCond(&in.mu)
	return in
}

// push appends one message, blocking while a bounded inbox is full.
// Returns false if the inbox was closed before the message could be queued.
func (in *Inbox) push(msg model.Message) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	for in.capacity > 0 && len(in.queue) >= in.capacity && !in.closed {
		in.notFull.Wait()
	}
	if in.closed {
		return false
	}
	in.queue = append(in.queue, msg)
	return true
}

// pushAll appends a batch under one lock acquisition so the batch lands as a
// contiguous run in the queue. Blocks per message when bounded. Returns how
// many messages were queued before the inbox closed.
func (in *Inbox) pushAll(msgs []model.Message) int {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i, msg := range msgs {
		for in.capacity > 0 && len(in.queue) >= in.capacity && !in.closed {
			in.notFull.Wait()
		}
		if in.closed {
			return i
		}
		in.queue = append(in.queue, msg)
	}
	return len(msgs)
}

// TryPop removes and returns the oldest message without blocking.
func (in *Inbox) TryPop() (model.Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.queue) == 0 {
		return model.Message{}, false
	}
	msg := in.queue[0]
	in.queue = in.queue[1:]
	in.notFull.Signal()
	return msg, true
}

// Drain removes and returns up to max messages in FIFO order.
func (in *Inbox) Drain(max int) []model.Message {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.queue) == 0 || max <= 0 {
		return nil
	}
	n := max
	if n > len(in.queue) {
		n = len(in.queue)
	}
	out := make([]model.Message, n)
	copy(out, in.queue[:n])
	in.queue = in.queue[n:]
	in.notFull.Broadcast()
	return out
}

// Len returns the number of pending messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// close marks the inbox dead, discards pending messages and wakes blocked
// publishers. Called by the broker on unregistration.
func (in *Inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.queue = nil
	in.notFull.Broadcast()
}
