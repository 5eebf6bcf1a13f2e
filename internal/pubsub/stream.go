// Package pubsub provides a generic channel fan-out used for observation
// streams (log entries, system events). It is deliberately lossy: slow
// subscribers drop events instead of stalling publishers. Inter-agent
// routing with delivery guarantees lives in internal/broker, not here.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBuffer = 64

// Event wraps a published payload with its emission time and a stream-local
// sequence number, so subscribers can detect gaps caused by drops.
type Event[T any] struct {
	Seq       uint64
	Payload   T
	Timestamp time.Time
}

// Stream is a many-to-many fan-out of events of one payload type.
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   map[chan Event[T]]struct{}
	seq    atomic.Uint64
	buffer int
	closed bool
}

// NewStream creates a stream with the default per-subscriber buffer (64).
func NewStream[T any]() *Stream[T] {
	return NewStreamWithBuffer[T](defaultBuffer)
}

// NewStreamWithBuffer creates a stream with a custom per-subscriber buffer.
func NewStreamWithBuffer[T any](buffer int) *Stream[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream[T]{
		subs:   make(map[chan Event[T]]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber channel. The channel is closed and
// removed when ctx is cancelled or the stream is closed. Subscribing to a
// closed stream returns an already-closed channel.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := make(chan Event[T], s.buffer)
	s.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub)
		}
	}()

	return sub
}

// Publish delivers the payload to every subscriber whose buffer has room.
// Never blocks.
func (s *Stream[T]) Publish(payload T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	event := Event[T]{
		Seq:       s.seq.Add(1),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	for sub := range s.subs {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full; drop rather than block the publisher.
		}
	}
}

// Close shuts the stream down and closes all subscriber channels.
// Idempotent.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		close(sub)
	}
	s.subs = nil
}

// SubscriberCount returns the number of active subscribers.
func (s *Stream[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
