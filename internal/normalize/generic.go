package normalize

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

// generic handles ad-hoc payloads. A payload with a conversation and a
// body becomes one replace intent; one carrying only an id and a status
// becomes a status update. It reports false when neither applies.
func (x *extraction) generic(p gjson.Result) bool {
	conversationID := firstString(p, "wa_id", "from")
	body := genericBody(p)
	externalID := p.Get("id").String()
	metaID := firstString(p, "meta_msg_id", "message_id")
	state := model.DeliveryState(p.Get("status").String())

	if conversationID != "" && body != "" {
		x.messages = append(x.messages, model.NewReplaceIntent(
			x.genericMessage(p, conversationID, body, externalID, metaID, state),
		))
		return true
	}

	if (externalID != "" || metaID != "") && state.Valid() {
		key := model.LookupKey{ExternalID: externalID, MetaID: metaID}
		if key.MetaID == "" {
			key.MetaID = externalID
		}
		var at *time.Time
		if ts, ok := parseTime(p.Get("timestamp")); ok {
			at = &ts
		}
		x.statuses = append(x.statuses, model.NewStatusIntent(key, state, x.source, at, x.now))
		return true
	}

	return false
}

func (x *extraction) genericMessage(p gjson.Result, conversationID, body, externalID, metaID string, state model.DeliveryState) model.Message {
	direction := model.Incoming
	if p.Get("type").String() == string(model.Outgoing) {
		direction = model.Outgoing
	}
	if !state.Valid() {
		state = model.Delivered
	}

	msg := model.Message{
		ExternalID:       externalID,
		MetaID:           metaID,
		ConversationID:   conversationID,
		CounterpartPhone: firstString(p, "phone", "from"),
		DisplayName:      p.Get("name").String(),
		Body:             body,
		Direction:        direction,
		DeliveryState:    state,
		SenderAddress:    p.Get("from").String(),
		RecipientAddress: p.Get("to").String(),
		ContentKind:      firstString(p, "message_type"),
		CreatedAt:        x.now,
		RawOrigin:        x.originBag(""),
	}

	if msg.CounterpartPhone == "" {
		msg.CounterpartPhone = conversationID
	}
	if msg.DisplayName == "" {
		msg.DisplayName = model.FallbackName(conversationID)
	}
	if msg.ContentKind == "" {
		msg.ContentKind = model.DefaultContentKind
	}
	if ts, ok := parseTime(p.Get("timestamp")); ok {
		msg.CreatedAt = ts
	}
	if msg.ExternalID == "" && msg.MetaID == "" {
		msg.ExternalID = x.n.newID(x.now)
	}
	return msg
}

// genericBody reads text or message, either as a plain string or as an
// object with a body field.
func genericBody(p gjson.Result) string {
	for _, path := range []string{"text", "message"} {
		r := p.Get(path)
		if r.IsObject() {
			if s := r.Get("body").String(); s != "" {
				return s
			}
			continue
		}
		if r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}
