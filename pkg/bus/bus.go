package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Handler reacts to one emitted event. Handlers run on the emitting goroutine.
type Handler func(context.Context, Event) error

type handlerEntry struct {
	prefix  string
	handler Handler
}

type MessageBus struct {
	handlers []handlerEntry

	eventSubscribers      map[uint64]subscriber
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		eventSubscribers: make(map[uint64]subscriber),
		done:             make(chan struct{}),
	}
}

// RegisterHandler adds a handler for every event whose name equals prefix or
// starts with prefix followed by a dot. An empty prefix matches everything.
func (mb *MessageBus) RegisterHandler(prefix string, handler Handler) {
	if handler == nil {
		return
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers = append(mb.handlers, handlerEntry{prefix: prefix, handler: handler})
}

// Handlers returns the handlers matching name in registration order.
func (mb *MessageBus) Handlers(name string) []Handler {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	var out []Handler
	for _, h := range mb.handlers {
		if Match(h.prefix, name) {
			out = append(out, h.handler)
		}
	}
	return out
}

// Emit runs the matching handlers and then fans the event out to
// subscribers. Handler errors are joined; a failing handler does not stop
// the others.
func (mb *MessageBus) Emit(ctx context.Context, event Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	event = event.stamped()

	select {
	case <-mb.done:
		return ErrClosed
	default:
	}

	var errs []error
	for _, h := range mb.Handlers(event.Name) {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	mb.PublishEvent(ctx, event)
	return errors.Join(errs...)
}

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("message bus closed")

// Match reports whether name falls under prefix in the dotted event namespace.
func Match(prefix, name string) bool {
	if prefix == "" || prefix == name {
		return true
	}
	return strings.HasPrefix(name, prefix) && strings.HasPrefix(name[len(prefix):], ".")
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, sub := range mb.eventSubscribers {
			close(sub.ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
