package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler reacts to one published Event.
type Handler func(Event)

// Subscription identifies a registered Handler so it can be removed later.
type Subscription struct {
	eventType Type
	id        uint64
}

// Bus is the in-process pub/sub hub every component publishes readings,
// status changes, and inbound commands through.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type]map[uint64]Handler
	nextID      uint64
	log         zerolog.Logger
}

// NewBus builds an empty Bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[Type]map[uint64]Handler),
		log:         log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers handler for eventType and returns a token to later
// Unsubscribe it.
func (b *Bus) Subscribe(eventType Type, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[uint64]Handler)
	}
	b.subscribers[eventType][id] = handler
	return Subscription{eventType: eventType, id: id}
}

// Unsubscribe removes a previously registered handler. Safe to call more
// than once with the same Subscription.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handlers, ok := b.subscribers[sub.eventType]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(b.subscribers, sub.eventType)
		}
	}
}

// Publish fans data out to every handler subscribed to eventType. Handlers
// run in their own goroutine so a slow subscriber never blocks the
// publisher or its siblings.
func (b *Bus) Publish(eventType Type, data interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	var handlers []Handler
	if registered := b.subscribers[eventType]; len(registered) > 0 {
		handlers = make([]Handler, 0, len(registered))
		for _, h := range registered {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(event)
	}

	b.log.Debug().Str("event_type", string(eventType)).Int("subscribers", len(handlers)).Msg("event published")
}
