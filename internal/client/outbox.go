package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
	"github.com/LeventeLantos/webhook-inbox/internal/realtime"
)

type Sender interface {
	Send(ctx context.Context, conversationID, text, id string) (model.Message, error)
}

// Outbox holds optimistic copies of messages the local user composed
// until the server confirms or rejects them. A copy is keyed by the id
// the client chose, which the server echoes back as the externalId.
type Outbox struct {
	sender Sender
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]model.Message
}

func NewOutbox(sender Sender) *Outbox {
	return &Outbox{
		sender:  sender,
		now:     time.Now,
		pending: make(map[string]model.Message),
	}
}

// Stage records an optimistic outgoing message and returns it.
func (o *Outbox) Stage(conversationID, body string) model.Message {
	now := o.now().UTC()
	id := model.NewSyntheticID(now)
	m := model.Message{
		ExternalID:       id,
		MetaID:           id,
		ConversationID:   conversationID,
		CounterpartPhone: conversationID,
		DisplayName:      model.OutgoingName,
		Body:             body,
		Direction:        model.Outgoing,
		DeliveryState:    model.Sent,
		ContentKind:      model.DefaultContentKind,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	o.mu.Lock()
	o.pending[id] = m
	o.mu.Unlock()
	return m
}

// Confirm settles the pending copy matching a message-created event. It
// reports whether the event belonged to this outbox.
func (o *Outbox) Confirm(ev realtime.Event) bool {
	if ev.Kind != realtime.MessageCreated {
		return false
	}
	m, err := ev.Message()
	if err != nil {
		return false
	}
	return o.settle(m.ExternalID)
}

// Reject rolls back a pending copy.
func (o *Outbox) Reject(id string) bool {
	return o.settle(id)
}

func (o *Outbox) settle(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[id]; !ok {
		return false
	}
	delete(o.pending, id)
	return true
}

// Pending lists unconfirmed messages, oldest first.
func (o *Outbox) Pending() []model.Message {
	o.mu.Lock()
	out := make([]model.Message, 0, len(o.pending))
	for _, m := range o.pending {
		out = append(out, m)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// Send stages a message, submits it and settles the pending copy either
// way. The realtime event for the same id may arrive before or after the
// response; whichever comes second is a no-op.
func (o *Outbox) Send(ctx context.Context, conversationID, body string) (model.Message, error) {
	staged := o.Stage(conversationID, body)

	m, err := o.sender.Send(ctx, conversationID, body, staged.ExternalID)
	o.settle(staged.ExternalID)
	if err != nil {
		return staged, err
	}
	return m, nil
}
