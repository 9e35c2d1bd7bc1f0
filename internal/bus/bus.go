package bus

import (
	"log/slog"
	"sync"
)

// MessageBus is the in-process fan-out broadcaster.
// Broadcast is fire-and-forget: handlers run synchronously on the caller's
// goroutine, and a panicking handler is logged and skipped.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates an empty bus.
func New() *MessageBus {
	return &MessageBus{handlers: make(map[string]EventHandler)}
}

// Subscribe registers handler under id, replacing any previous handler with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	b.handlers[id] = handler
	b.mu.Unlock()
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

// Broadcast delivers event to every subscriber.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make(map[string]EventHandler, len(b.handlers))
	for id, h := range b.handlers {
		handlers[id] = h
	}
	b.mu.RUnlock()

	for id, h := range handlers {
		b.deliver(id, h, event)
	}
}

// Publish is shorthand for Broadcast with explicit channel/name/payload.
func (b *MessageBus) Publish(channel, name string, payload interface{}) {
	b.Broadcast(Event{Channel: channel, Name: name, Payload: payload})
}

func (b *MessageBus) deliver(id string, h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: subscriber panicked", "subscriber", id, "event", event.Name, "panic", r)
		}
	}()
	h(event)
}
