package agent

import (
	"sync"
	"time"

	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/model"
)

// outbox buffers outgoing messages and flushes them to the broker as one
// batch. A flush happens when the buffer reaches the size threshold, when a
// one-shot timer armed on the first append fires, or on demand at stop. The
// timer and the size path converge on a single flush: whichever runs first
// takes the whole buffer, the other sees it empty.
type outbox struct {
	broker   *broker.Broker
	size     int
	interval time.Duration

	mu        sync.Mutex
	buf       []model.Message
	timer     *time.Timer
	lastFlush time.Time
	stopped   bool
}

func newOutbox(b *broker.Broker, size int, interval time.Duration) *outbox {
	return &outbox{
		broker:    b,
		size:      size,
		interval:  interval,
		lastFlush: time.Now().UTC(),
	}
}

func (o *outbox) add(msg model.Message) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.buf = append(o.buf, msg)

	if len(o.buf) >= o.size {
		batch := o.takeLocked()
		o.mu.Unlock()
		o.publish(batch)
		return
	}

	if len(o.buf) == 1 && o.timer == nil {
		o.timer = time.AfterFunc(o.interval, o.flush)
	}
	o.mu.Unlock()
}

// flush publishes whatever is buffered. Safe to call from the timer, the
// loop and Stop concurrently.
func (o *outbox) flush() {
	o.mu.Lock()
	batch := o.takeLocked()
	o.mu.Unlock()
	o.publish(batch)
}

// flushIfAged flushes only when the buffer is non-empty and older than the
// batch interval. Called from idle loop iterations.
func (o *outbox) flushIfAged() {
	o.mu.Lock()
	if len(o.buf) == 0 || time.Since(o.lastFlush) < o.interval {
		o.mu.Unlock()
		return
	}
	batch := o.takeLocked()
	o.mu.Unlock()
	o.publish(batch)
}

// takeLocked removes and returns the buffered batch, disarming the timer.
func (o *outbox) takeLocked() []model.Message {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.buf) == 0 {
		return nil
	}
	batch := o.buf
	o.buf = nil
	o.lastFlush = time.Now().UTC()
	return batch
}

// publish hands a taken batch to the broker. Runs without the outbox lock so
// a bounded inbox blocking the publish cannot deadlock appenders.
func (o *outbox) publish(batch []model.Message) {
	if len(batch) == 0 {
		return
	}
	o.broker.PublishBatch(batch)
}

func (o *outbox) stop() {
	o.mu.Lock()
	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.mu.Unlock()
}

// pending returns the buffered message count. Test helper.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf)
}
