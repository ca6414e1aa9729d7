package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeventeLantos/webhook-inbox/internal/metrics"
	"github.com/LeventeLantos/webhook-inbox/internal/model"
	"github.com/LeventeLantos/webhook-inbox/internal/repo"
)

type Reason string

const (
	ReasonDuplicate      Reason = "duplicate"
	ReasonTargetNotFound Reason = "target-not-found"
)

// Outcome describes what applying one intent did. A skipped intent has
// Applied false and a Reason; it is not an error.
type Outcome struct {
	Intent   model.Intent
	Applied  bool
	Reason   Reason
	Message  *model.Message
	Contact  *model.Contact
	Replaced bool
}

// Engine applies intents to the store so that replaying the same payload
// any number of times leaves the store as if it had been applied once.
type Engine struct {
	store repo.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewEngine(store repo.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, log: logger, now: time.Now}
}

func (e *Engine) Apply(ctx context.Context, in model.Intent) (Outcome, error) {
	var (
		out Outcome
		err error
	)

	switch {
	case in.Kind == model.ContactUpsert && in.Contact != nil:
		out, err = e.applyContact(ctx, in)
	case in.Kind == model.MessageUpsert && in.Message != nil:
		out, err = e.applyMessage(ctx, in, false)
	case in.Kind == model.MessageReplace && in.Message != nil:
		out, err = e.applyMessage(ctx, in, true)
	case in.Kind == model.StatusUpdate && in.Status != nil:
		out, err = e.applyStatus(ctx, in)
	default:
		return Outcome{Intent: in}, fmt.Errorf("malformed intent of kind %q", in.Kind)
	}

	metrics.IntentApplied(string(in.Kind), outcomeLabel(out, err))
	return out, err
}

func outcomeLabel(out Outcome, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case out.Applied:
		return metrics.OutcomeApplied
	case out.Reason == ReasonTargetNotFound:
		return metrics.OutcomeTargetNotFound
	}
	return metrics.OutcomeDuplicate
}

func (e *Engine) applyContact(ctx context.Context, in model.Intent) (Outcome, error) {
	c := *in.Contact
	if c.LastSeenAt.IsZero() {
		c.LastSeenAt = e.now().UTC()
	}

	stored, err := e.store.UpsertContact(ctx, c)
	if err != nil {
		return Outcome{Intent: in}, fmt.Errorf("upsert contact %s: %w", c.ConversationID, err)
	}
	return Outcome{Intent: in, Applied: true, Contact: &stored}, nil
}

func (e *Engine) applyMessage(ctx context.Context, in model.Intent, replace bool) (Outcome, error) {
	m := *in.Message
	out := Outcome{Intent: in}

	existing, err := e.store.FindMessage(ctx, m.Key())
	switch {
	case err == nil:
		if !replace {
			return e.skipDuplicate(out, m), nil
		}
		return e.replace(ctx, out, existing.ID, m)
	case !errors.Is(err, repo.ErrNotFound):
		return out, fmt.Errorf("find message %s: %w", m.Ref(), err)
	}

	if err := e.store.InsertMessage(ctx, &m); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return out, fmt.Errorf("insert message %s: %w", m.Ref(), err)
		}
		// Lost a race with a concurrent insert of the same external id.
		if !replace {
			return e.skipDuplicate(out, m), nil
		}
		existing, ferr := e.store.FindMessage(ctx, m.Key())
		if ferr != nil {
			return out, fmt.Errorf("find message %s: %w", m.Ref(), ferr)
		}
		return e.replace(ctx, out, existing.ID, m)
	}

	out.Applied = true
	out.Message = &m

	c, err := e.touchContact(ctx, m)
	if err != nil {
		return out, fmt.Errorf("refresh contact %s: %w", m.ConversationID, err)
	}
	out.Contact = &c
	return out, nil
}

func (e *Engine) skipDuplicate(out Outcome, m model.Message) Outcome {
	e.log.Debug("duplicate message skipped", slog.String("ref", m.Ref()))
	out.Reason = ReasonDuplicate
	return out
}

func (e *Engine) replace(ctx context.Context, out Outcome, id int64, m model.Message) (Outcome, error) {
	stored, err := e.store.ReplaceMessage(ctx, id, m)
	if err != nil {
		return out, fmt.Errorf("replace message %d: %w", id, err)
	}
	out.Applied = true
	out.Replaced = true
	out.Message = &stored

	c, err := e.touchContact(ctx, stored)
	if err != nil {
		return out, fmt.Errorf("refresh contact %s: %w", stored.ConversationID, err)
	}
	out.Contact = &c
	return out, nil
}

// touchContact creates the conversation's contact if it is missing. An
// incoming message also refreshes the contact's name, last-seen time and
// online flag; an outgoing one never changes an existing contact.
func (e *Engine) touchContact(ctx context.Context, m model.Message) (model.Contact, error) {
	fallback := model.FallbackName(m.ConversationID)
	c := model.Contact{
		ConversationID: m.ConversationID,
		DisplayName:    m.DisplayName,
		Phone:          m.CounterpartPhone,
		LastSeenAt:     e.now().UTC(),
	}

	if m.Direction == model.Outgoing {
		c.DisplayName = fallback
		return e.store.EnsureContact(ctx, c)
	}

	if c.DisplayName == "" || c.DisplayName == fallback {
		cur, err := e.store.GetContact(ctx, m.ConversationID)
		switch {
		case err == nil:
			c.DisplayName = cur.DisplayName
		case errors.Is(err, repo.ErrNotFound):
			c.DisplayName = fallback
		default:
			return model.Contact{}, err
		}
	}
	c.IsOnline = true
	return e.store.UpsertContact(ctx, c)
}

func (e *Engine) applyStatus(ctx context.Context, in model.Intent) (Outcome, error) {
	st := in.Status
	out := Outcome{Intent: in}

	m, err := e.store.SetDeliveryState(ctx, st.Key, st.State, st.Annotation)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		e.log.Warn("status update for unknown message",
			slog.String("externalId", st.Key.ExternalID),
			slog.String("metaId", st.Key.MetaID),
			slog.String("status", string(st.State)),
		)
		out.Reason = ReasonTargetNotFound
		return out, nil
	case err != nil:
		return out, fmt.Errorf("set delivery state %s: %w", in.Ref(), err)
	}

	out.Applied = true
	out.Message = &m
	return out, nil
}
