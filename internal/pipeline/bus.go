package pipeline

import (
	"sync"
)

// EventBus fans published snapshots out to subscribers. Handlers are
// invoked synchronously in publish order; channel subscribers receive on a
// buffered channel and are skipped (never blocked on) when the buffer is
// full, so a slow display client cannot stall the pipeline.
type EventBus struct {
	subscribers map[*busSubscription]bool
	mu          sync.RWMutex
}

type busSubscription struct {
	channel chan Snapshot
	handler SnapshotHandler
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*busSubscription]bool),
	}
}

// Subscribe registers a handler for every published snapshot.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler SnapshotHandler) func() {
	sub := &busSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of snapshots and an
// unsubscribe function. Snapshots published while the buffer is full are
// dropped for this subscriber.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan Snapshot, func()) {
	if bufferSize <= 0 {
		bufferSize = 8
	}

	ch := make(chan Snapshot, bufferSize)
	sub := &busSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers a snapshot to all subscribers.
func (b *EventBus) Publish(snap Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			sub.handler.OnSnapshot(snap)
			continue
		}
		if sub.channel != nil {
			select {
			case sub.channel <- snap:
			default:
				// Subscriber is behind, skip this snapshot.
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes subscriber channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
