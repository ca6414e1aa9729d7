package normalize

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

// envelope walks entry[].changes[].value in order. Contact names listed
// anywhere in the payload are visible to every value.
func (x *extraction) envelope(root gjson.Result) {
	var values []gjson.Result
	root.Get("entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			if v := change.Get("value"); v.IsObject() {
				values = append(values, v)
			}
			return true
		})
		return true
	})

	known := x.knownContacts(values)
	for _, v := range values {
		x.value(v, known)
	}
}

func (x *extraction) knownContacts(values []gjson.Result) map[string]string {
	known := make(map[string]string)
	for _, v := range values {
		v.Get("contacts").ForEach(func(_, c gjson.Result) bool {
			id := c.Get("wa_id").String()
			if id == "" {
				return true
			}
			name := c.Get("profile.name").String()
			if prev, ok := known[id]; !ok || (prev == "" && name != "") {
				known[id] = name
			}
			return true
		})
	}
	return known
}

// value extracts one Business-API value object (or a direct payload).
func (x *extraction) value(v gjson.Result, known map[string]string) {
	v.Get("contacts").ForEach(func(_, c gjson.Result) bool {
		id := c.Get("wa_id").String()
		if id == "" {
			x.dropped++
			return true
		}
		name := c.Get("profile.name").String()
		if name == "" {
			name = model.FallbackName(id)
		}
		x.addContact(model.Contact{
			ConversationID: id,
			DisplayName:    name,
			Phone:          id,
			LastSeenAt:     x.now,
		})
		return true
	})

	business := v.Get("metadata.display_phone_number").String()
	if business == "" {
		business = x.n.businessPhone
	}

	v.Get("messages").ForEach(func(_, m gjson.Result) bool {
		msg, ok := x.message(v, m, business, known)
		if !ok {
			x.dropped++
			return true
		}
		x.messages = append(x.messages, model.NewMessageIntent(msg))
		return true
	})

	v.Get("statuses").ForEach(func(_, s gjson.Result) bool {
		x.status(s)
		return true
	})
}

func (x *extraction) addContact(c model.Contact) {
	if x.seen == nil {
		x.seen = make(map[string]bool)
	}
	if x.seen[c.ConversationID] {
		return
	}
	x.seen[c.ConversationID] = true
	x.contacts = append(x.contacts, model.NewContactIntent(c))
}

// message reports false when the sender is missing, since the message
// could not be filed under any conversation.
func (x *extraction) message(v, m gjson.Result, business string, known map[string]string) (model.Message, bool) {
	from := m.Get("from").String()
	if from == "" {
		return model.Message{}, false
	}

	direction := model.Incoming
	if business != "" && from == business {
		direction = model.Outgoing
	}

	conversationID := from
	if direction == model.Outgoing {
		if peer := v.Get("contacts.0.wa_id").String(); peer != "" {
			conversationID = peer
		}
	}

	msg := model.Message{
		ConversationID:   conversationID,
		CounterpartPhone: conversationID,
		DisplayName:      x.displayName(v, from, direction, known),
		Body:             firstString(m, "text.body", "interactive.body.text"),
		Direction:        direction,
		SenderAddress:    from,
		ContentKind:      m.Get("type").String(),
		CreatedAt:        x.now,
		RawOrigin:        x.originBag(m.Raw),
	}

	if msg.Body == "" {
		msg.Body = model.MediaPlaceholder
	}
	if msg.ContentKind == "" {
		msg.ContentKind = model.DefaultContentKind
	}
	if ts, ok := parseTime(m.Get("timestamp")); ok {
		msg.CreatedAt = ts
	}

	if direction == model.Outgoing {
		msg.DeliveryState = model.Sent
		msg.RecipientAddress = conversationID
	} else {
		msg.DeliveryState = model.Delivered
		msg.RecipientAddress = business
	}

	if id := m.Get("id").String(); id != "" {
		msg.ExternalID = id
		msg.MetaID = id
	} else {
		msg.ExternalID = x.n.newID(x.now)
	}
	return msg, true
}

func (x *extraction) displayName(v gjson.Result, from string, direction model.Direction, known map[string]string) string {
	if direction == model.Outgoing {
		return model.OutgoingName
	}

	var name string
	v.Get("contacts").ForEach(func(_, c gjson.Result) bool {
		if c.Get("wa_id").String() == from {
			name = c.Get("profile.name").String()
			return false
		}
		return true
	})
	if name != "" {
		return name
	}
	if name = known[from]; name != "" {
		return name
	}
	if x.n.contacts != nil && from != "" {
		if stored, ok := x.n.contacts.ContactName(x.ctx, from); ok && stored != "" {
			return stored
		}
	}
	return model.FallbackName(from)
}

func (x *extraction) status(s gjson.Result) {
	id := s.Get("id").String()
	meta := s.Get("meta_msg_id").String()
	if meta == "" {
		meta = id
	}
	state := model.DeliveryState(s.Get("status").String())

	if (id == "" && meta == "") || !state.Valid() {
		x.dropped++
		return
	}

	var at *time.Time
	if ts, ok := parseTime(s.Get("timestamp")); ok {
		at = &ts
	}

	key := model.LookupKey{ExternalID: id, MetaID: meta}
	x.statuses = append(x.statuses, model.NewStatusIntent(key, state, x.source, at, x.now))
}
