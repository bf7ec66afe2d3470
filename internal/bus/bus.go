// Package bus provides the in-process publish/subscribe substrate. Delivery
// is synchronous on the emitter goroutine, so handlers must be fast and
// non-blocking.
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// ringCap bounds the recent-events buffer.
const ringCap = 200

// Event is the record delivered to handlers and kept in the ring.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives an event. Returned errors are logged and swallowed:
// a failing subscriber must never break the emitter.
type Handler func(Event) error

// Bus is a synchronous event bus with a bounded recent-events ring.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	ring     []Event
	log      *zap.Logger
}

// New builds an empty bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		ring:     make([]Event, 0, ringCap),
		log:      log,
	}
}

// Subscribe registers a handler for eventType. Use Wildcard to receive all.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Emit builds the event, appends it to the ring, and invokes the matching
// handlers plus wildcard subscribers. The lock is held only to snapshot
// subscribers and update the ring; handlers run outside it.
func (b *Bus) Emit(eventType string, data map[string]any) {
	ev := Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}

	b.mu.Lock()
	if len(b.ring) == ringCap {
		copy(b.ring, b.ring[1:])
		b.ring[ringCap-1] = ev
	} else {
		b.ring = append(b.ring, ev)
	}
	snapshot := make([]Handler, 0, len(b.handlers[eventType])+len(b.handlers[Wildcard]))
	snapshot = append(snapshot, b.handlers[eventType]...)
	snapshot = append(snapshot, b.handlers[Wildcard]...)
	b.mu.Unlock()

	for _, h := range snapshot {
		b.invoke(h, ev)
	}
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event handler panicked",
				zap.String("event_type", ev.Type), zap.Any("panic", r))
		}
	}()
	if err := h(ev); err != nil {
		b.log.Warn("event handler failed",
			zap.String("event_type", ev.Type), zap.Error(err))
	}
}

// RecentEvents returns up to limit most recent events in emission order,
// optionally filtered by type. limit <= 0 means all buffered events.
func (b *Bus) RecentEvents(limit int, filterType string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	src := b.ring
	if filterType != "" {
		src = make([]Event, 0, len(b.ring))
		for _, ev := range b.ring {
			if ev.Type == filterType {
				src = append(src, ev)
			}
		}
	}
	if limit <= 0 || limit > len(src) {
		limit = len(src)
	}
	out := make([]Event, limit)
	copy(out, src[len(src)-limit:])
	return out
}

// SubscriberCount reports registered handlers for a type (tests, overview).
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
