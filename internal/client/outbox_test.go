package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
	"github.com/LeventeLantos/webhook-inbox/internal/realtime"
)

type fakeSender struct {
	gotID string
	err   error
	// onSend runs before the response returns, like an event racing it.
	onSend func(id string)
}

func (f *fakeSender) Send(ctx context.Context, conversationID, text, id string) (model.Message, error) {
	f.gotID = id
	if f.onSend != nil {
		f.onSend(id)
	}
	if f.err != nil {
		return model.Message{}, f.err
	}
	return model.Message{ID: 1, ExternalID: id, ConversationID: conversationID, Body: text}, nil
}

func TestOutbox_StageAndConfirmByEvent(t *testing.T) {
	t.Parallel()

	o := NewOutbox(&fakeSender{})
	staged := o.Stage("555", "hello")
	if !model.IsSyntheticID(staged.ExternalID) || staged.Direction != model.Outgoing {
		t.Fatalf("unexpected staged message: %+v", staged)
	}
	if got := o.Pending(); len(got) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(got))
	}

	other, _ := realtime.NewMessageCreated(model.Message{ExternalID: "someone-else"}, time.Now())
	if o.Confirm(other) {
		t.Fatalf("expected unrelated event to be ignored")
	}

	ev, err := realtime.NewMessageCreated(model.Message{ID: 9, ExternalID: staged.ExternalID}, time.Now())
	if err != nil {
		t.Fatalf("NewMessageCreated() error: %v", err)
	}
	if !o.Confirm(ev) {
		t.Fatalf("expected event to confirm the staged message")
	}
	if got := o.Pending(); len(got) != 0 {
		t.Fatalf("expected nothing pending, got %+v", got)
	}
	if o.Confirm(ev) {
		t.Fatalf("expected second confirm to be a no-op")
	}
}

func TestOutbox_StatusEventIgnored(t *testing.T) {
	t.Parallel()

	o := NewOutbox(&fakeSender{})
	staged := o.Stage("555", "hello")

	ev, _ := realtime.NewStatusChanged(realtime.StatusPayload{ExternalID: staged.ExternalID, NewState: model.Read}, time.Now())
	if o.Confirm(ev) {
		t.Fatalf("expected status event to be ignored")
	}
}

func TestOutbox_Reject(t *testing.T) {
	t.Parallel()

	o := NewOutbox(&fakeSender{})
	staged := o.Stage("555", "hello")
	if !o.Reject(staged.ExternalID) {
		t.Fatalf("expected reject to remove pending message")
	}
	if o.Reject(staged.ExternalID) {
		t.Fatalf("expected second reject to be a no-op")
	}
}

func TestOutbox_Send(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	o := NewOutbox(s)

	m, err := o.Send(context.Background(), "555", "hello")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if m.ID != 1 || m.ExternalID != s.gotID {
		t.Fatalf("expected server copy keyed by staged id, got %+v", m)
	}
	if len(o.Pending()) != 0 {
		t.Fatalf("expected nothing pending after success")
	}
}

func TestOutbox_SendFailureRollsBack(t *testing.T) {
	t.Parallel()

	o := NewOutbox(&fakeSender{err: errors.New("unexpected status code: 500")})

	staged, err := o.Send(context.Background(), "555", "hello")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if staged.Body != "hello" {
		t.Fatalf("expected staged copy back, got %+v", staged)
	}
	if len(o.Pending()) != 0 {
		t.Fatalf("expected rollback, still pending: %+v", o.Pending())
	}
}

func TestOutbox_EventBeforeResponse(t *testing.T) {
	t.Parallel()

	var o *Outbox
	var confirmed bool
	s := &fakeSender{onSend: func(id string) {
		ev, _ := realtime.NewMessageCreated(model.Message{ExternalID: id}, time.Now())
		confirmed = o.Confirm(ev)
	}}
	o = NewOutbox(s)

	if _, err := o.Send(context.Background(), "555", "hello"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !confirmed {
		t.Fatalf("expected event to confirm while request in flight")
	}
	if len(o.Pending()) != 0 {
		t.Fatalf("expected nothing pending")
	}
}
