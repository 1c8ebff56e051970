// Package bus implements the in-process event bus described in spec §4.1:
// synchronous, ordered, at-most-once delivery to topic-filtered subscribers,
// followed by unconditional delivery to recorders (the event logger, the
// session recorder). It carries no persistence of its own — cross-process
// delivery happens only through the JSONL file (internal/eventlog).
package bus

import (
	"log"
	"sync"

	"github.com/ralph-run/ralph/internal/events"
)

// Handler processes one delivered event. Handlers must be non-blocking and
// avoid I/O that can stall the publisher (spec §4.1).
type Handler func(events.Event) error

type subscription struct {
	id      uint64
	filter  string
	handler Handler
}

// Subscription is the handle returned by Subscribe. Go has no destructors,
// so "deregisters when dropped" (spec §4.1) is modeled as an explicit
// Unsubscribe call rather than GC-triggered cleanup.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Unsubscribe removes the handler from the bus. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus dispatches events to subscribers and recorders, sequentially and
// synchronously, on the publisher's goroutine.
type Bus struct {
	mu        sync.Mutex
	subs      []*subscription
	recorders []Handler
	nextID    uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler for events whose topic matches filter (exact,
// "prefix.*", or "*" — see events.MatchTopic). Subscriptions are delivered
// in subscription order.
func (b *Bus) Subscribe(filter string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, filter: filter, handler: handler}
	b.subs = append(b.subs, sub)
	return &Subscription{bus: b, id: sub.id}
}

// AddRecorder registers a handler that receives every published event,
// regardless of topic, after all topic-matched subscribers have run. Used by
// the Event Logger and the Session Recorder (spec §4.1, §4.3, §4.8).
func (b *Bus) AddRecorder(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorders = append(b.recorders, handler)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching subscriber, then to every recorder,
// in registration order. A handler that returns an error (or panics) is
// logged; the remaining handlers still run, and Publish itself never fails.
func (b *Bus) Publish(e events.Event) {
	b.mu.Lock()
	matched := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if events.MatchTopic(s.filter, e.Topic) {
			matched = append(matched, s.handler)
		}
	}
	recorders := make([]Handler, len(b.recorders))
	copy(recorders, b.recorders)
	b.mu.Unlock()

	for _, h := range matched {
		invoke(h, e)
	}
	for _, h := range recorders {
		invoke(h, e)
	}
}

func invoke(h Handler, e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: handler panicked for topic %q: %v", e.Topic, r)
		}
	}()
	if err := h(e); err != nil {
		log.Printf("bus: handler error for topic %q: %v", e.Topic, err)
	}
}
