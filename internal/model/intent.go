package model

import "time"

type IntentKind string

const (
	ContactUpsert  IntentKind = "contact-upsert"
	MessageUpsert  IntentKind = "message-upsert"
	StatusUpdate   IntentKind = "status-update"
	MessageReplace IntentKind = "message-replace"
)

// Intent is one normalized instruction for the upsert engine. Exactly one
// of Contact, Message or Status is set, matching Kind.
type Intent struct {
	Kind    IntentKind
	Contact *Contact
	Message *Message
	Status  *StatusChange
}

type StatusChange struct {
	Key        LookupKey
	State      DeliveryState
	Annotation StatusAnnotation
}

func NewContactIntent(c Contact) Intent {
	return Intent{Kind: ContactUpsert, Contact: &c}
}

func NewMessageIntent(m Message) Intent {
	return Intent{Kind: MessageUpsert, Message: &m}
}

func NewReplaceIntent(m Message) Intent {
	return Intent{Kind: MessageReplace, Message: &m}
}

func NewStatusIntent(key LookupKey, state DeliveryState, source string, at *time.Time, now time.Time) Intent {
	return Intent{
		Kind: StatusUpdate,
		Status: &StatusChange{
			Key:   key,
			State: state,
			Annotation: StatusAnnotation{
				Status:      state,
				Timestamp:   at,
				ProcessedAt: now,
				Source:      source,
			},
		},
	}
}

// Ref returns a short identifier for logging.
func (i Intent) Ref() string {
	switch {
	case i.Contact != nil:
		return i.Contact.ConversationID
	case i.Message != nil:
		return i.Message.Ref()
	case i.Status != nil:
		if i.Status.Key.ExternalID != "" {
			return i.Status.Key.ExternalID
		}
		return i.Status.Key.MetaID
	}
	return ""
}
