package bus

import (
	"context"
	"sync"
	"time"
)

// Event names are dotted: message.<type>.<sub>, notice.<type>.<sub>,
// forum.<kind>.<action> and connect.
const (
	EventConnect = "connect"
)

type Event struct {
	Name      string    `json:"name"`
	At        time.Time `json:"at"`
	AccountID string    `json:"account_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

func (e Event) stamped() Event {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

func (s subscriber) wants(name string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if Match(p, name) {
			return true
		}
	}
	return false
}

func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	event = event.stamped()

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	subs := make([]chan Event, 0, len(mb.eventSubscribers))
	for _, sub := range mb.eventSubscribers {
		if sub.wants(event.Name) {
			subs = append(subs, sub.ch)
		}
	}
	mb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

// SubscribeEvents returns a channel of events whose names match one of
// prefixes, or every event when none are given.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int, prefixes ...string) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = subscriber{ch: ch, prefixes: prefixes}
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if sub, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(sub.ch)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
