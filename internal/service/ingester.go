package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/LeventeLantos/webhook-inbox/internal/metrics"
	"github.com/LeventeLantos/webhook-inbox/internal/model"
	"github.com/LeventeLantos/webhook-inbox/internal/normalize"
	"github.com/LeventeLantos/webhook-inbox/internal/realtime"
	"github.com/LeventeLantos/webhook-inbox/internal/repo"
)

const (
	SourceWebhook = "webhook"
	SourceAPI     = "api"
)

var ErrInvalidRequest = errors.New("invalid request")

// EventSink accepts realtime events without blocking the caller.
type EventSink interface {
	Enqueue(ev realtime.Event) bool
}

// Report summarizes one ingested payload. Failed intents are listed in
// Errors; sibling intents are applied regardless.
type Report struct {
	Source   string          `json:"source"`
	Shape    normalize.Shape `json:"shape"`
	Intents  int             `json:"intents"`
	Applied  int             `json:"applied"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Dropped  int             `json:"dropped"`
	Outcomes []Outcome       `json:"-"`
	Errors   []error         `json:"-"`
}

func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

type Ingester struct {
	store         repo.Store
	engine        *Engine
	normalizer    *normalize.Normalizer
	events        EventSink
	log           *slog.Logger
	now           func() time.Time
	businessPhone string
}

type Option func(*Ingester)

func WithEvents(sink EventSink) Option {
	return func(i *Ingester) { i.events = sink }
}

func WithLogger(l *slog.Logger) Option {
	return func(i *Ingester) { i.log = l }
}

func WithBusinessPhone(phone string) Option {
	return func(i *Ingester) { i.businessPhone = phone }
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingester) { i.now = now }
}

func NewIngester(store repo.Store, opts ...Option) *Ingester {
	i := &Ingester{
		store: store,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	i.engine = NewEngine(store, i.log)
	i.engine.now = i.now
	i.normalizer = normalize.New(
		normalize.WithContactResolver(contactResolver{store: store}),
		normalize.WithBusinessPhone(i.businessPhone),
		normalize.WithClock(i.now),
	)
	return i
}

// Ingest normalizes one raw payload and applies its intents in order.
// It returns an error only when raw is not JSON; store failures are
// recorded per intent in the report.
func (i *Ingester) Ingest(ctx context.Context, raw []byte, source string) (Report, error) {
	rep := Report{Source: source}

	res, err := i.normalizer.Normalize(ctx, raw, source)
	rep.Shape = res.Shape
	metrics.PayloadReceived(sourceKind(source), string(res.Shape))
	if err != nil {
		return rep, err
	}

	rep.Intents = len(res.Intents)
	rep.Dropped = res.Dropped
	if res.Empty() {
		i.log.Warn("payload produced no intents",
			slog.String("source", source),
			slog.String("shape", string(res.Shape)),
		)
		return rep, nil
	}

	for _, in := range res.Intents {
		out, err := i.engine.Apply(ctx, in)
		rep.Outcomes = append(rep.Outcomes, out)

		if out.Applied {
			i.publish(out)
		}

		switch {
		case err != nil:
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Errorf("%s %s: %w", in.Kind, in.Ref(), err))
			i.log.Error("apply intent failed",
				slog.String("source", source),
				slog.String("kind", string(in.Kind)),
				slog.String("ref", in.Ref()),
				slog.Any("err", err),
			)
		case out.Applied:
			rep.Applied++
		default:
			rep.Skipped++
		}
	}

	i.log.Info("payload ingested",
		slog.String("source", source),
		slog.String("shape", string(rep.Shape)),
		slog.Int("applied", rep.Applied),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed),
	)
	return rep, nil
}

func sourceKind(source string) string {
	switch source {
	case SourceWebhook, SourceAPI:
		return source
	}
	return "file"
}

func (i *Ingester) publish(out Outcome) {
	if i.events == nil || out.Message == nil {
		return
	}

	var (
		ev  realtime.Event
		err error
	)
	// an overwrite changes an existing record, so it is announced as a
	// change rather than a second creation
	switch {
	case out.Intent.Kind == model.StatusUpdate || out.Replaced:
		m := *out.Message
		ev, err = realtime.NewStatusChanged(realtime.StatusPayload{
			ExternalID:     m.ExternalID,
			MetaID:         m.MetaID,
			ConversationID: m.ConversationID,
			NewState:       m.DeliveryState,
			Message:        &m,
		}, i.now())
	case out.Intent.Kind == model.MessageUpsert || out.Intent.Kind == model.MessageReplace:
		ev, err = realtime.NewMessageCreated(*out.Message, i.now())
	default:
		return
	}
	if err != nil {
		i.log.Error("build event failed", slog.Any("err", err))
		return
	}
	i.events.Enqueue(ev)
}

type SendRequest struct {
	ConversationID string          `json:"conversationId"`
	Body           string          `json:"body"`
	Direction      model.Direction `json:"direction,omitempty"`
	// ID lets a client pick the external id up front so it can reconcile
	// its optimistic copy with the broadcast event.
	ID string `json:"id,omitempty"`
}

// Send records a message composed through the API. A repeated ID is
// reported as repo.ErrDuplicate.
func (i *Ingester) Send(ctx context.Context, req SendRequest) (model.Message, error) {
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" || strings.TrimSpace(req.Body) == "" {
		return model.Message{}, fmt.Errorf("%w: conversationId and body are required", ErrInvalidRequest)
	}
	if req.Direction == "" {
		req.Direction = model.Outgoing
	}
	if !req.Direction.Valid() {
		return model.Message{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidRequest, req.Direction)
	}

	now := i.now().UTC()
	id := req.ID
	if id == "" {
		id = model.NewSyntheticID(now)
	}

	m := model.Message{
		ExternalID:       id,
		MetaID:           id,
		ConversationID:   req.ConversationID,
		CounterpartPhone: req.ConversationID,
		Body:             req.Body,
		Direction:        req.Direction,
		ContentKind:      model.DefaultContentKind,
		CreatedAt:        now,
		RawOrigin:        apiOrigin(now),
	}
	if m.Direction == model.Outgoing {
		m.DisplayName = model.OutgoingName
		m.DeliveryState = model.Sent
		m.SenderAddress = i.businessPhone
		m.RecipientAddress = req.ConversationID
	} else {
		m.DisplayName = i.contactName(ctx, req.ConversationID)
		m.DeliveryState = model.Delivered
		m.SenderAddress = req.ConversationID
		m.RecipientAddress = i.businessPhone
	}

	out, err := i.engine.Apply(ctx, model.NewMessageIntent(m))
	if out.Applied {
		i.publish(out)
	}
	if err != nil {
		return model.Message{}, err
	}
	if !out.Applied {
		return model.Message{}, fmt.Errorf("message %s: %w", id, repo.ErrDuplicate)
	}
	return *out.Message, nil
}

func apiOrigin(now time.Time) []byte {
	doc, err := sjson.SetBytes([]byte(`{}`), "source", SourceAPI)
	if err != nil {
		return nil
	}
	doc, err = sjson.SetBytes(doc, "processedAt", now.Format(time.RFC3339Nano))
	if err != nil {
		return nil
	}
	return doc
}

func (i *Ingester) contactName(ctx context.Context, conversationID string) string {
	if name, ok := (contactResolver{store: i.store}).ContactName(ctx, conversationID); ok {
		return name
	}
	return model.FallbackName(conversationID)
}

// MarkRead marks every unread incoming message of a conversation read
// and broadcasts a single bulk status event, even when nothing was
// unread, so every open view converges on the same state.
func (i *Ingester) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	n, err := i.store.MarkConversationRead(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if i.events == nil {
		return n, nil
	}

	ev, err := realtime.NewStatusChanged(realtime.StatusPayload{
		ConversationID: conversationID,
		NewState:       model.Read,
		Bulk:           true,
	}, i.now())
	if err != nil {
		i.log.Error("build event failed", slog.Any("err", err))
		return n, nil
	}
	i.events.Enqueue(ev)
	return n, nil
}

func (i *Ingester) Conversations(ctx context.Context) ([]model.ConversationView, error) {
	msgs, err := i.store.ListMessages(ctx, repo.MessageFilter{})
	if err != nil {
		return nil, err
	}
	contacts, err := i.store.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	return BuildConversations(msgs, contacts), nil
}

func (i *Ingester) Messages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return i.store.ListMessages(ctx, repo.MessageFilter{ConversationID: conversationID, Limit: limit})
}

func (i *Ingester) Contacts(ctx context.Context) ([]model.Contact, error) {
	return i.store.ListContacts(ctx)
}

// SaveContact creates or updates a contact directly, outside of any
// payload.
func (i *Ingester) SaveContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	c.ConversationID = strings.TrimSpace(c.ConversationID)
	if c.ConversationID == "" {
		return model.Contact{}, fmt.Errorf("%w: conversationId is required", ErrInvalidRequest)
	}
	if c.DisplayName == "" {
		c.DisplayName = model.FallbackName(c.ConversationID)
	}
	if c.Phone == "" {
		c.Phone = c.ConversationID
	}
	out, err := i.engine.Apply(ctx, model.NewContactIntent(c))
	if err != nil {
		return model.Contact{}, err
	}
	return *out.Contact, nil
}

func (i *Ingester) Stats(ctx context.Context) (model.Stats, error) {
	return i.store.Stats(ctx)
}

func (i *Ingester) Ping(ctx context.Context) error {
	return i.store.Ping(ctx)
}

// contactResolver lets the normalizer name incoming senders after their
// stored contact.
type contactResolver struct {
	store repo.ContactRepository
}

func (r contactResolver) ContactName(ctx context.Context, conversationID string) (string, bool) {
	c, err := r.store.GetContact(ctx, conversationID)
	if err != nil || c.DisplayName == "" || c.DisplayName == model.FallbackName(conversationID) {
		return "", false
	}
	return c.DisplayName, true
}
