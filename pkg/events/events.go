package events

import (
	"sync"
)

// Subscriber is a channel that receives change ticks. Ticks carry no
// payload; receipt means "re-read state".
type Subscriber chan struct{}

// Broker manages subscriptions and broadcast of change ticks
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		shutdownCh:  make(chan struct{}),
	}
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Notify broadcasts a nameless change tick to all subscribers. Ticks are
// dropped for subscribers whose buffer is full; bursts coalesce.
func (b *Broker) Notify() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- struct{}{}:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// Shutdown signals all long-lived streams to close. It is one-shot and safe
// to call multiple times.
func (b *Broker) Shutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdownCh)
	})
}

// ShutdownChan returns a channel closed when Shutdown has been called
func (b *Broker) ShutdownChan() <-chan struct{} {
	return b.shutdownCh
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
