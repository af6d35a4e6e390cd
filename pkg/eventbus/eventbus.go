// Package eventbus replaces the source framework's registered-callback
// event emitter with a publish channel consumed by zero or more
// subscribers, delivered on the same cooperative task so subscriber
// ordering matches publish ordering (spec.md §9 design note).
package eventbus

import "sync"

// Event is a single published notification. Topic identifies the event
// kind (e.g. "review:responded", "freeze:activated",
// "negotiation.transitioned"); Payload carries the event-specific data.
type Event struct {
	Topic   string
	Payload interface{}
}

// Handler receives a published Event. Handlers run synchronously on the
// publisher's goroutine/continuation, in subscription order — there is
// no internal queue or worker pool, matching the single-threaded
// cooperative scheduling model.
type Handler func(Event)

// Bus is an in-process publish channel. The zero value is usable.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers handler for topic and returns an unsubscribe
// function. A handler subscribed to "" receives every topic.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string][]Handler)
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	idx := len(b.handlers[topic]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[topic]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Publish delivers ev to every subscriber of ev.Topic and every
// subscriber of the wildcard "" topic, in subscription order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	topicHandlers := append([]Handler(nil), b.handlers[ev.Topic]...)
	wildcard := append([]Handler(nil), b.handlers[""]...)
	b.mu.Unlock()

	for _, h := range topicHandlers {
		if h != nil {
			h(ev)
		}
	}
	for _, h := range wildcard {
		if h != nil {
			h(ev)
		}
	}
}
