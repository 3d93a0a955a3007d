package comms

import (
	"context"
	"sync"
	"time"
)

// InMemoryBus is a thread-safe in-process event bus with bounded history.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	history  []Event
	maxHist  int
}

// NewInMemoryBus creates an InMemoryBus with a 1000-event history cap.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[int]Handler),
		maxHist:  1000,
	}
}

// Publish records ev in history and delivers it to all subscribers.
// Safe for concurrent publishers.
func (b *InMemoryBus) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	targets := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		targets = append(targets, h)
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(ctx, ev)
	}
}

// Subscribe registers a handler for all events. The returned function
// unsubscribes it.
func (b *InMemoryBus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// History returns up to limit most recent events for the project,
// oldest first. A zero projectID matches all projects.
func (b *InMemoryBus) History(projectID int64, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for i := len(b.history) - 1; i >= 0; i-- {
		ev := b.history[i]
		if projectID != 0 && ev.ProjectID != projectID {
			continue
		}
		result = append(result, ev)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	// Reverse to chronological order
	for l, r := 0, len(result)-1; l < r; l, r = l+1, r-1 {
		result[l], result[r] = result[r], result[l]
	}
	return result
}
