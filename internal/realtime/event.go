// Package realtime fans out change notifications to connected clients
// and external consumers. Delivery is best effort: events are never
// persisted and a subscriber only sees what is published while it is
// subscribed.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

type Kind string

const (
	MessageCreated Kind = "message-created"
	StatusChanged  Kind = "message-status-changed"
)

type Event struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// StatusPayload is the body of a message-status-changed event. Message
// carries the record after the change. Bulk is set when a whole
// conversation was marked read at once, in which case only
// ConversationID is meaningful and Message is nil.
type StatusPayload struct {
	ExternalID     string              `json:"externalId,omitempty"`
	MetaID         string              `json:"metaId,omitempty"`
	ConversationID string              `json:"conversationId"`
	NewState       model.DeliveryState `json:"newState"`
	Bulk           bool                `json:"bulk,omitempty"`
	Message        *model.Message      `json:"message,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

func newEvent(kind Kind, payload any, now time.Time) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		At:      now.UTC(),
		Payload: b,
	}, nil
}

func NewMessageCreated(m model.Message, now time.Time) (Event, error) {
	return newEvent(MessageCreated, m, now)
}

func NewStatusChanged(p StatusPayload, now time.Time) (Event, error) {
	return newEvent(StatusChanged, p, now)
}

// Message decodes the payload of a message-created event.
func (e Event) Message() (model.Message, error) {
	var m model.Message
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

// Status decodes the payload of a message-status-changed event.
func (e Event) Status() (StatusPayload, error) {
	var p StatusPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}
