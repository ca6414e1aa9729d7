package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
	"github.com/LeventeLantos/webhook-inbox/internal/normalize"
	"github.com/LeventeLantos/webhook-inbox/internal/realtime"
	"github.com/LeventeLantos/webhook-inbox/internal/repo"
	"github.com/LeventeLantos/webhook-inbox/internal/service"
)

type fakeSink struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (s *fakeSink) Enqueue(ev realtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *fakeSink) kinds() []realtime.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.Kind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

var fixedNow = time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

func newTestIngester(store repo.Store, sink *fakeSink) *service.Ingester {
	return service.NewIngester(store,
		service.WithEvents(sink),
		service.WithBusinessPhone("15550001111"),
		service.WithClock(func() time.Time { return fixedNow }),
	)
}

const envelopePayload = `{
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"display_phone_number": "15550001111"},
        "contacts": [{"wa_id": "4915112345678", "profile": {"name": "Alice"}}],
        "messages": [{"id": "wamid.A", "from": "4915112345678", "timestamp": "1770050000", "type": "text", "text": {"body": "hello"}}],
        "statuses": [{"id": "wamid.A", "status": "read", "timestamp": "1770050100"}]
      }
    }]
  }]
}`

func TestIngester_EnvelopeAppliesInOrderAndPublishes(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	sink := &fakeSink{}
	ing := newTestIngester(store, sink)
	ctx := context.Background()

	rep, err := ing.Ingest(ctx, []byte(envelopePayload), service.SourceWebhook)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if rep.Shape != normalize.ShapeEnvelope {
		t.Fatalf("expected envelope shape, got %q", rep.Shape)
	}
	if rep.Applied != 3 || rep.Skipped != 0 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	m, err := store.FindMessage(ctx, model.ByID("wamid.A"))
	if err != nil {
		t.Fatalf("FindMessage() error: %v", err)
	}
	if m.DeliveryState != model.Read || m.DisplayName != "Alice" {
		t.Fatalf("unexpected stored message: %+v", m)
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != realtime.MessageCreated || kinds[1] != realtime.StatusChanged {
		t.Fatalf("unexpected events: %v", kinds)
	}
	if p, err := sink.events[1].Status(); err != nil || p.Message == nil || p.Message.DeliveryState != model.Read {
		t.Fatalf("expected status event to carry the updated record, got %+v (%v)", p, err)
	}

	// replaying the same payload creates nothing new
	rep, err = ing.Ingest(ctx, []byte(envelopePayload), service.SourceWebhook)
	if err != nil {
		t.Fatalf("second Ingest() error: %v", err)
	}
	if rep.Skipped != 1 {
		t.Fatalf("expected the message to be skipped on replay, got %+v", rep)
	}
	st, _ := store.Stats(ctx)
	if st.Messages != 1 || st.Contacts != 1 {
		t.Fatalf("unexpected stats after replay: %+v", st)
	}
}

func TestIngester_GenericPayloadThenOverwrite(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	ing := newTestIngester(store, &fakeSink{})
	ctx := context.Background()

	rep, err := ing.Ingest(ctx, []byte(`{"wa_id":"555","name":"Alice","text":"hi","type":"incoming","timestamp":1770050000}`), service.SourceWebhook)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if rep.Applied != 1 {
		t.Fatalf("expected one applied intent, got %+v", rep)
	}

	msgs, _ := store.ListMessages(ctx, repo.MessageFilter{ConversationID: "555"})
	if len(msgs) != 1 || !model.IsSyntheticID(msgs[0].ExternalID) {
		t.Fatalf("expected one message with a synthesized id, got %+v", msgs)
	}
	c, err := store.GetContact(ctx, "555")
	if err != nil || c.DisplayName != "Alice" {
		t.Fatalf("expected contact Alice, got %+v (%v)", c, err)
	}

	id := msgs[0].ExternalID
	again := `{"id":"` + id + `","wa_id":"555","name":"Alice","text":"hi again","type":"incoming"}`
	rep, err = ing.Ingest(ctx, []byte(again), service.SourceWebhook)
	if err != nil {
		t.Fatalf("second Ingest() error: %v", err)
	}
	if rep.Applied != 1 || !rep.Outcomes[0].Replaced {
		t.Fatalf("expected overwrite, got %+v", rep.Outcomes)
	}

	msgs, _ = store.ListMessages(ctx, repo.MessageFilter{ConversationID: "555"})
	if len(msgs) != 1 || msgs[0].Body != "hi again" {
		t.Fatalf("expected record count unchanged and body overwritten, got %+v", msgs)
	}
}

func TestIngester_OverwriteAnnouncedAsStatusChange(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	sink := &fakeSink{}
	ing := newTestIngester(store, sink)
	ctx := context.Background()

	for _, payload := range []string{
		`{"wa_id":"555","text":"hi","id":"G1"}`,
		`{"wa_id":"555","text":"hi edited","id":"G1"}`,
	} {
		if _, err := ing.Ingest(ctx, []byte(payload), service.SourceWebhook); err != nil {
			t.Fatalf("Ingest() error: %v", err)
		}
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != realtime.MessageCreated || kinds[1] != realtime.StatusChanged {
		t.Fatalf("expected created then status-changed, got %v", kinds)
	}

	p, err := sink.events[1].Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if p.ExternalID != "G1" || p.ConversationID != "555" || p.NewState != model.Delivered {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Message == nil || p.Message.Body != "hi edited" {
		t.Fatalf("expected the overwritten record in the payload, got %+v", p.Message)
	}
}

func TestIngester_MarkReadWithNothingUnreadStillPublishes(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	ing := newTestIngester(repo.NewMemoryStore(), sink)

	n, err := ing.MarkRead(context.Background(), "555")
	if err != nil || n != 0 {
		t.Fatalf("MarkRead() = %d, %v", n, err)
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != realtime.StatusChanged {
		t.Fatalf("expected one bulk status event, got %v", kinds)
	}
	p, _ := sink.events[0].Status()
	if !p.Bulk || p.ConversationID != "555" || p.NewState != model.Read || p.Message != nil {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestIngester_BareStatusWithoutTarget(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	sink := &fakeSink{}
	ing := newTestIngester(store, sink)

	rep, err := ing.Ingest(context.Background(), []byte(`{"id":"X","status":"read"}`), service.SourceWebhook)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if rep.Applied != 0 || rep.Skipped != 1 || rep.Err() != nil {
		t.Fatalf("expected one skipped intent and no error, got %+v", rep)
	}
	if rep.Outcomes[0].Reason != service.ReasonTargetNotFound {
		t.Fatalf("expected target-not-found, got %q", rep.Outcomes[0].Reason)
	}
	if len(sink.kinds()) != 0 {
		t.Fatalf("expected no events, got %v", sink.kinds())
	}
}

func TestIngester_MalformedAndInvalidPayloads(t *testing.T) {
	t.Parallel()

	ing := newTestIngester(repo.NewMemoryStore(), &fakeSink{})
	ctx := context.Background()

	rep, err := ing.Ingest(ctx, []byte(`{"hello":"world"}`), service.SourceWebhook)
	if err != nil {
		t.Fatalf("expected malformed payload to be tolerated, got %v", err)
	}
	if rep.Shape != normalize.ShapeUnknown || rep.Intents != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	if _, err := ing.Ingest(ctx, []byte(`not json`), service.SourceWebhook); !errors.Is(err, normalize.ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestIngester_StoreFailureIsolatedPerIntent(t *testing.T) {
	t.Parallel()

	store := &flakyStore{MemoryStore: repo.NewMemoryStore(), err: errors.New("connection refused")}
	ing := newTestIngester(store, &fakeSink{})

	rep, err := ing.Ingest(context.Background(), []byte(envelopePayload), "batch-001.json")
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	// contact applies, message insert fails, status finds nothing
	if rep.Applied != 1 || rep.Failed != 1 || rep.Skipped != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Err() == nil {
		t.Fatalf("expected report to carry the store error")
	}
}

func TestIngester_SendAndMarkRead(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	sink := &fakeSink{}
	ing := newTestIngester(store, sink)
	ctx := context.Background()

	if _, err := ing.Send(ctx, service.SendRequest{ConversationID: "555"}); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	out, err := ing.Send(ctx, service.SendRequest{ConversationID: "555", Body: "hello", ID: "client-1"})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if out.ExternalID != "client-1" || out.Direction != model.Outgoing || out.DisplayName != model.OutgoingName {
		t.Fatalf("unexpected sent message: %+v", out)
	}
	if gjson.GetBytes(out.RawOrigin, "source").String() != service.SourceAPI {
		t.Fatalf("expected api origin, got %s", out.RawOrigin)
	}

	if _, err := ing.Send(ctx, service.SendRequest{ConversationID: "555", Body: "hello", ID: "client-1"}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused id, got %v", err)
	}

	for _, body := range []string{"one", "two"} {
		if _, err := ing.Send(ctx, service.SendRequest{ConversationID: "555", Body: body, Direction: model.Incoming}); err != nil {
			t.Fatalf("Send(incoming) error: %v", err)
		}
	}

	views, err := ing.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations() error: %v", err)
	}
	if len(views) != 1 || views[0].UnreadCount != 2 {
		t.Fatalf("expected 2 unread, got %+v", views)
	}

	n, err := ing.MarkRead(ctx, "555")
	if err != nil || n != 2 {
		t.Fatalf("MarkRead() = %d, %v", n, err)
	}
	views, _ = ing.Conversations(ctx)
	if views[0].UnreadCount != 0 {
		t.Fatalf("expected unread reset, got %d", views[0].UnreadCount)
	}

	kinds := sink.kinds()
	last := sink.events[len(kinds)-1]
	p, err := last.Status()
	if err != nil || last.Kind != realtime.StatusChanged || !p.Bulk || p.ConversationID != "555" {
		t.Fatalf("expected bulk status event, got %+v (%v)", p, err)
	}
}

func TestIngester_SaveContactRequiresID(t *testing.T) {
	t.Parallel()

	ing := newTestIngester(repo.NewMemoryStore(), &fakeSink{})
	ctx := context.Background()

	if _, err := ing.SaveContact(ctx, model.Contact{}); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	c, err := ing.SaveContact(ctx, model.Contact{ConversationID: "777"})
	if err != nil {
		t.Fatalf("SaveContact() error: %v", err)
	}
	if c.DisplayName != model.FallbackName("777") || c.Phone != "777" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}
