// Package bus is the in-process event backbone of the governance pipeline.
// Cross-cutting concerns (audit, notification, metrics) observe the pipeline
// through it instead of being called directly.
//
// Delivery is synchronous and ordered: Publish invokes subscribers for the
// topic in subscription order before returning, so events for a single
// request are observed in the order they were published. Subscribers must
// therefore be fast and must not call back into Publish for the same topic.
package bus

import (
	"log/slog"
	"sync"
)

// Event is any payload published on the bus. Topic routes it to subscribers.
type Event interface {
	Topic() string
}

// Handler receives events for a subscribed topic.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Bus is a typed topic fan-out. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
}

func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers a handler for a topic and returns an unsubscribe func.
// Multiple subscribers per topic are delivered in subscription order.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every subscriber of its topic, in order.
// A panicking subscriber is logged and skipped; it never takes down the
// pipeline or prevents delivery to later subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	list := b.subs[ev.Topic()]
	b.mu.RUnlock()

	for _, s := range list {
		deliver(s.fn, ev)
	}
}

func deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "topic", ev.Topic(), "panic", r)
		}
	}()
	fn(ev)
}
