package repo

import (
	"context"
	"errors"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with the unique
	// index on a message's external id.
	ErrDuplicate = errors.New("duplicate external id")
)

type MessageFilter struct {
	ConversationID string
	// Limit caps the result; zero means no limit.
	Limit int
}

type MessageRepository interface {
	FindMessage(ctx context.Context, key model.LookupKey) (model.Message, error)
	InsertMessage(ctx context.Context, m *model.Message) error
	// ReplaceMessage overwrites every mutable field of the message with
	// the given id.
	ReplaceMessage(ctx context.Context, id int64, m model.Message) (model.Message, error)
	// SetDeliveryState finds the best match for key, sets its state and
	// appends the annotation to its raw origin in one step.
	SetDeliveryState(ctx context.Context, key model.LookupKey, state model.DeliveryState, note model.StatusAnnotation) (model.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) (int64, error)
	ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error)
	Stats(ctx context.Context) (model.Stats, error)
}

type ContactRepository interface {
	GetContact(ctx context.Context, conversationID string) (model.Contact, error)
	// UpsertContact creates the contact or overwrites its display name,
	// phone and last-seen time. IsOnline is only ever raised, never
	// cleared.
	UpsertContact(ctx context.Context, c model.Contact) (model.Contact, error)
	// EnsureContact creates the contact only if none exists and returns
	// the stored record either way.
	EnsureContact(ctx context.Context, c model.Contact) (model.Contact, error)
	ListContacts(ctx context.Context) ([]model.Contact, error)
}

type Store interface {
	MessageRepository
	ContactRepository
	Ping(ctx context.Context) error
	Close()
}
