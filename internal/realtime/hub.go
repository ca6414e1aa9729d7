package realtime

import (
	"context"
	"sync"
)

type Handler func(Event)

type subscription struct {
	kind Kind
	fn   Handler
}

// Hub is the in-process broadcast point. Handlers run synchronously on
// the publishing goroutine and must not block.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscription)}
}

// Subscribe registers fn for events of the given kind, or for every kind
// when kind is empty. The returned func removes the subscription and is
// safe to call more than once.
func (h *Hub) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscription{kind: kind, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]Handler, 0, len(h.subs))
	for _, s := range h.subs {
		if s.kind == "" || s.kind == ev.Kind {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
	return nil
}
