// Package eventbus implements the Control Event Bus (§4.6): a typed,
// synchronous publish/subscribe channel connecting the scheduler to
// external UI/keyboard collaborators. publish(event) invokes every
// subscriber registered for that event's name, in registration order, on
// the publisher's own goroutine. There is no queueing and no fan-out
// goroutine: the design invariant is only that subscribers run to
// completion before Publish returns.
package eventbus

import "sync"

// Event is implemented by every concrete event type carried on the bus.
// EventName identifies which subscribers receive it.
type Event interface {
	EventName() string
}

// Handler receives a published Event. Handlers run on the publisher's
// goroutine and must not block indefinitely.
type Handler func(Event)

// Bus is the Control Event Bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers handler for events with the given name. Subscribers
// for the same name are invoked in the order they were registered.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], handler)
}

// Publish invokes every subscriber registered for event.EventName(), in
// registration order, synchronously on the calling goroutine.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.subs[event.EventName()]
	// Copy under the lock so a handler that subscribes mid-publish never
	// sees itself invoked for the event that caused the subscription.
	snapshot := make([]Handler, len(handlers))
	copy(snapshot, handlers)
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(event)
	}
}
