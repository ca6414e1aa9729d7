package model

import (
	"encoding/json"
	"time"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

func (d Direction) Valid() bool {
	return d == Incoming || d == Outgoing
}

// DeliveryState is the transit stage of a message. Transitions are
// sent -> delivered -> read in practice but are not enforced.
type DeliveryState string

const (
	Sent      DeliveryState = "sent"
	Delivered DeliveryState = "delivered"
	Read      DeliveryState = "read"
	Failed    DeliveryState = "failed"
)

func (s DeliveryState) Valid() bool {
	switch s {
	case Sent, Delivered, Read, Failed:
		return true
	}
	return false
}

const (
	DefaultContentKind = "text"
	MediaPlaceholder   = "Media message"
	OutgoingName       = "You"
)

type Message struct {
	ID               int64           `json:"id,omitempty"`
	ExternalID       string          `json:"externalId,omitempty"`
	MetaID           string          `json:"metaId,omitempty"`
	ConversationID   string          `json:"conversationId"`
	CounterpartPhone string          `json:"counterpartPhone"`
	DisplayName      string          `json:"displayName"`
	Body             string          `json:"body"`
	Direction        Direction       `json:"direction"`
	DeliveryState    DeliveryState   `json:"deliveryState"`
	SenderAddress    string          `json:"senderAddress,omitempty"`
	RecipientAddress string          `json:"recipientAddress,omitempty"`
	ContentKind      string          `json:"contentKind"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	RawOrigin        json.RawMessage `json:"rawOrigin,omitempty"`
}

// Key returns the dual lookup key identifying this message.
func (m Message) Key() LookupKey {
	return LookupKey{ExternalID: m.ExternalID, MetaID: m.MetaID}
}

// Ref is the identifier clients use to correlate a message: the external
// id when present, otherwise the meta id.
func (m Message) Ref() string {
	if m.ExternalID != "" {
		return m.ExternalID
	}
	return m.MetaID
}

// StatusAnnotation is appended to a message's raw origin every time a
// status update is applied to it.
type StatusAnnotation struct {
	Status      DeliveryState `json:"status"`
	Timestamp   *time.Time    `json:"timestamp,omitempty"`
	ProcessedAt time.Time     `json:"processedAt"`
	Source      string        `json:"source"`
}
