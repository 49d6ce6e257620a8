// Package broker fans out engine progress events to in-process
// subscribers.
//
// Delivery is at-most-once: a subscriber whose buffer is full misses
// the event, and there is no replay. Observers that need a complete
// picture read the run ledger; the event stream only narrates progress.
package broker

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashita-ai/hirameki/internal/model"
)

// subscriberBuffer is the per-subscriber channel depth. Deep enough to
// absorb a burst from a wide run; a subscriber further behind than this
// starts losing events.
const subscriberBuffer = 64

// Broker distributes progress events to all active subscribers.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan model.ProgressEvent]struct{}
	closed      bool

	dropped atomic.Int64
}

// New creates a broker ready for subscribers.
func New(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan model.ProgressEvent]struct{}),
	}
}

// Subscribe returns a channel that receives every event published after
// this call. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan model.ProgressEvent {
	ch := make(chan model.ProgressEvent, subscriberBuffer)
	b.mu.Lock()
	if !b.closed {
		b.subscribers[ch] = struct{}{}
	} else {
		close(ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it. Safe to call
// after Close.
func (b *Broker) Unsubscribe(ch chan model.ProgressEvent) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends event to all subscribers without blocking. A subscriber
// with a full buffer is skipped so one stalled client cannot hold back
// the engine or its peers.
func (b *Broker) Publish(event model.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			if b.logger != nil {
				b.logger.Debug("broker: dropped event for slow subscriber",
					"type", event.Type, "run_id", event.RunID)
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many events were lost to slow subscribers since
// the broker was created.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every remaining subscriber channel. Later Subscribe
// calls return an already-closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan model.ProgressEvent]struct{})
	b.closed = true
}
