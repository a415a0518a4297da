// Package eventbus dispatches typed events from the database and its
// resources to registered handlers.
package eventbus

import (
	"context"
	"log"
	"sort"
	"sync"
)

// Bus dispatches events to registered handlers using a local in-process
// approach. Resource runtimes and plugins share one bus per database.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Subscribe registers a plain function for the given event types with
// default priority.
func (b *Bus) Subscribe(id string, fn func(context.Context, *Event) error, events ...EventType) {
	b.Register(&funcHandler{id: id, fn: fn, events: events, priority: 100})
}

// Dispatch sends an event to all registered handlers that handle its
// type. Handlers are called sequentially in priority order (lowest
// first). Handler errors are logged but do not stop the chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := h.Handle(ctx, event); err != nil {
			log.Printf("eventbus: handler %q error for %s: %v", h.ID(), event.Type, err)
		}
	}
}

// Handlers returns all registered handlers (for introspection).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers for the event type, sorted by
// priority (lowest first). Caller must hold at least a read lock.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}

type funcHandler struct {
	id       string
	fn       func(context.Context, *Event) error
	events   []EventType
	priority int
}

func (h *funcHandler) ID() string           { return h.id }
func (h *funcHandler) Handles() []EventType { return h.events }
func (h *funcHandler) Priority() int        { return h.priority }
func (h *funcHandler) Handle(ctx context.Context, e *Event) error {
	return h.fn(ctx, e)
}
