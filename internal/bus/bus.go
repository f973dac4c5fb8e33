package bus

import (
	"sync"
	"time"
)

// MessageBus fans domain events out to in-process subscribers
// (audit recorder, diagnostics).
type MessageBus struct {
	// Event subscribers (subscriber ID → handler)
	subscribers map[string]EventHandler
	subMu       sync.RWMutex

	now func() time.Time
}

func New() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]EventHandler),
		now:         time.Now,
	}
}

// Subscribe registers an event subscriber under id, replacing any previous handler.
func (mb *MessageBus) Subscribe(id string, handler EventHandler) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	mb.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	delete(mb.subscribers, id)
}

// Publish stamps and broadcasts an event.
func (mb *MessageBus) Publish(name string, payload any) {
	mb.Broadcast(Event{Name: name, Payload: payload, At: mb.now()})
}

// Broadcast sends an event to all subscribers (non-blocking per subscriber).
func (mb *MessageBus) Broadcast(event Event) {
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	for _, handler := range mb.subscribers {
		handler(event) // handlers should be non-blocking
	}
}
