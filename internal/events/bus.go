// Package events propagates writes to every interested consumer. Payloads are
// informational only: consumers re-run their query on any event instead of
// applying the payload.
package events

import (
	"context"
	"log"
	"sync"
	"time"
)

// EventType names a change.
type EventType string

const (
	CaseCreated      EventType = "caseCreated"
	CaseUpdated      EventType = "caseUpdated"
	CasesChanged     EventType = "casesChanged"
	UserCreated      EventType = "userCreated"
	UserUpdated      EventType = "userUpdated"
	UserDeleted      EventType = "userDeleted"
	ShowingBooked    EventType = "showingBooked"
	AgentRegistered  EventType = "agentRegistered"
	OfferSubmitted   EventType = "offerSubmitted"
	OfferUpdated     EventType = "offerUpdated"
	MessageSent      EventType = "messageSent"
	MessagesArchived EventType = "messagesArchived"
	// StorageChanged is the generic signal emitted after every write.
	StorageChanged EventType = "storage"
)

// Event is one change notification.
type Event struct {
	Type     EventType   `json:"type"`
	Entity   string      `json:"entity,omitempty"` // "case", "user", "offer", ...
	EntityID string      `json:"entityId,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
	At       time.Time   `json:"at"`
	// Origin identifies the bus that first published the event; relays use it to avoid echoes.
	Origin string `json:"origin,omitempty"`
}

// Publisher is what repositories depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

const subscriptionBuffer = 64

// Subscription receives events on C until Close is called.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	types  map[EventType]bool
	bus    *Bus
	closed bool
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	id   string
}

// NewBus creates a bus. id tags locally published events with their origin.
func NewBus(id string) *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), id: id}
}

// ID returns the origin tag of this bus.
func (b *Bus) ID() string { return b.id }

// Subscribe registers for the given types; no types means every event.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch, bus: b, types: make(map[EventType]bool, len(types))}
	for _, t := range types {
		sub.types[t] = true
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers ev to every matching subscriber without blocking. A subscriber
// whose buffer is full misses the event; it will catch up on the next signal or poll.
func (b *Bus) Publish(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Origin == "" {
		ev.Origin = b.id
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Printf("Warning: dropping %s event for a slow subscriber", ev.Type)
		}
	}
}

// Notify publishes each event followed by a single generic StorageChanged signal.
func Notify(ctx context.Context, p Publisher, evs ...Event) {
	if p == nil {
		return
	}
	for _, ev := range evs {
		p.Publish(ctx, ev)
	}
	p.Publish(ctx, Event{Type: StorageChanged})
}
