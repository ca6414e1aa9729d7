package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

var testNow = time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

func mustStatusEvent(t *testing.T, p StatusPayload) Event {
	t.Helper()
	ev, err := NewStatusChanged(p, testNow)
	if err != nil {
		t.Fatalf("NewStatusChanged() error: %v", err)
	}
	return ev
}

func TestEvent_RoundTripsPayload(t *testing.T) {
	t.Parallel()

	ev, err := NewMessageCreated(model.Message{ExternalID: "wamid.1", ConversationID: "c1", Body: "hi"}, testNow)
	if err != nil {
		t.Fatalf("NewMessageCreated() error: %v", err)
	}
	if ev.ID == "" || ev.Kind != MessageCreated || !ev.At.Equal(testNow) {
		t.Fatalf("unexpected event envelope: %+v", ev)
	}

	m, err := ev.Message()
	if err != nil {
		t.Fatalf("Message() error: %v", err)
	}
	if m.ExternalID != "wamid.1" || m.Body != "hi" {
		t.Fatalf("unexpected payload: %+v", m)
	}
}

func TestHub_DeliversByKindToCurrentSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ctx := context.Background()

	var created, all int
	unsubCreated := h.Subscribe(MessageCreated, func(Event) { created++ })
	unsubAll := h.Subscribe("", func(Event) { all++ })

	status := mustStatusEvent(t, StatusPayload{ConversationID: "c1", NewState: model.Read, Bulk: true})
	if err := h.Publish(ctx, status); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if created != 0 || all != 1 {
		t.Fatalf("expected only wildcard delivery, got created=%d all=%d", created, all)
	}

	unsubAll()
	unsubAll()
	unsubCreated()
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}

	// no backlog: events published with nobody listening are gone
	if err := h.Publish(ctx, status); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if all != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", all)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	got    chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	if p.got != nil {
		p.got <- struct{}{}
	}
	return p.err
}

func TestDispatcher_EnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(1, nil, &recordingPublisher{})
	ev := mustStatusEvent(t, StatusPayload{ConversationID: "c1", NewState: model.Read})

	if !d.Enqueue(ev) {
		t.Fatalf("expected first enqueue to succeed")
	}
	if d.Enqueue(ev) {
		t.Fatalf("expected second enqueue to be dropped")
	}
}

func TestDispatcher_RunPublishesToEveryPublisher(t *testing.T) {
	t.Parallel()

	ok := &recordingPublisher{got: make(chan struct{}, 1)}
	failing := &recordingPublisher{err: errors.New("boom"), got: make(chan struct{}, 1)}
	d := NewDispatcher(4, nil, failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Enqueue(mustStatusEvent(t, StatusPayload{ConversationID: "c1", NewState: model.Read}))

	for _, p := range []*recordingPublisher{failing, ok} {
		select {
		case <-p.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for publish")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
}

func TestRedisBus_RelaysIntoHub(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hub := NewHub()
	got := make(chan Event, 1)
	hub.Subscribe(StatusChanged, func(ev Event) { got <- ev })

	bus := NewRedisBus(rdb, "chat:events", hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	select {
	case <-bus.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("bus never subscribed")
	}

	sent := mustStatusEvent(t, StatusPayload{ExternalID: "wamid.1", ConversationID: "c1", NewState: model.Delivered})
	if err := bus.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case ev := <-got:
		if ev.ID != sent.ID {
			t.Fatalf("expected event %s, got %s", sent.ID, ev.ID)
		}
		p, err := ev.Status()
		if err != nil {
			t.Fatalf("Status() error: %v", err)
		}
		if p.ExternalID != "wamid.1" || p.NewState != model.Delivered {
			t.Fatalf("unexpected payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for relayed event")
	}
}

func TestRedisBus_PublishContextCanceled(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(rdb, "chat:events", NewHub(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := bus.Publish(ctx, Event{ID: "x"}); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestPublishing_UsesKindAsRoutingKey(t *testing.T) {
	t.Parallel()

	ev := mustStatusEvent(t, StatusPayload{ConversationID: "c1", NewState: model.Read})
	key, msg, err := publishing(ev)
	if err != nil {
		t.Fatalf("publishing() error: %v", err)
	}
	if key != string(StatusChanged) {
		t.Fatalf("expected routing key %q, got %q", StatusChanged, key)
	}
	if msg.MessageId != ev.ID || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
}
