package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStream_Subscribe(t *testing.T) {
	s := NewStream[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	s.Publish("hello")

	select {
	case event := <-ch:
		require.Equal(t, "hello", event.Payload)
		require.Equal(t, uint64(1), event.Seq)
		require.False(t, event.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for event")
	}
}

func TestStream_SequenceNumbers(t *testing.T) {
	s := NewStream[int]()
	defer s.Close()

	ch := s.Subscribe(context.Background())
	s.Publish(10)
	s.Publish(20)
	s.Publish(30)

	for i, want := range []int{10, 20, 30} {
		event := <-ch
		require.Equal(t, want, event.Payload)
		require.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestStream_MultipleSubscribers(t *testing.T) {
	s := NewStream[int]()
	defer s.Close()

	ctx := context.Background()
	ch1 := s.Subscribe(ctx)
	ch2 := s.Subscribe(ctx)
	require.Equal(t, 2, s.SubscriberCount())

	s.Publish(42)

	for i, ch := range []<-chan Event[int]{ch1, ch2} {
		select {
		case event := <-ch:
			require.Equal(t, 42, event.Payload, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			require.Fail(t, "timeout waiting for event", "subscriber %d", i)
		}
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	s := NewStream[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	require.Equal(t, 1, s.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool {
		return s.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}

func TestStream_DropsWhenFull(t *testing.T) {
	s := NewStreamWithBuffer[int](1)
	defer s.Close()

	ch := s.Subscribe(context.Background())

	// Fill the buffer, then publish more; publishes must not block.
	done := make(chan struct{})
	go func() {
		s.Publish(1)
		s.Publish(2)
		s.Publish(3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "Publish blocked")
	}

	event := <-ch
	require.Equal(t, 1, event.Payload)
}

func TestStream_CloseIdempotent(t *testing.T) {
	s := NewStream[string]()
	ch := s.Subscribe(context.Background())

	s.Close()
	s.Close()

	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, s.SubscriberCount())

	// Subscribe and publish after close must be safe.
	ch2 := s.Subscribe(context.Background())
	_, ok = <-ch2
	require.False(t, ok)
	s.Publish("ignored")
}
