// Package events provides the typed event channel that replaces ad hoc
// global listeners: connectivity and visibility transitions, plus the
// inter-context messages relayed from the gateway, are published to
// explicit subscriber lists.
package events

import (
	"sync"
)

// Type identifies an event. The set is closed: consumers switch on these
// constants rather than inspecting payloads.
type Type string

const (
	// Online fires on an offline-to-online transition.
	Online Type = "online"

	// Offline fires on an online-to-offline transition.
	Offline Type = "offline"

	// Visible fires when the host page regains visibility.
	Visible Type = "visible"

	// Hidden fires when the host page is hidden.
	Hidden Type = "hidden"

	// DrainRequested asks the queue manager to drain now, e.g. relayed
	// from a "drain sync queue" inter-context message.
	DrainRequested Type = "drain_requested"

	// MutationCompleted announces that a mutation was applied from a
	// background trigger (e.g. a system-notification action).
	MutationCompleted Type = "mutation_completed"
)

// Event carries a type tag and an optional payload.
type Event struct {
	Type Type
	Data []byte
}

// Bus fans events out to subscribers. Delivery order is preserved per
// subscriber channel; there is no ordering guarantee across subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	ch    chan Event
	types map[Type]bool // nil means all types
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers interest in the given event types (none means all).
// The returned channel is buffered; events are dropped for a subscriber
// that falls too far behind rather than blocking the publisher. cancel
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(types ...Type) (ch <-chan Event, cancel func()) {
	sub := &subscriber{ch: make(chan Event, 16)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber. Never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is not keeping up; dropping beats blocking
			// every other consumer.
		}
	}
}
