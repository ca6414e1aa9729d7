package service

import (
	"sort"
	"time"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

// BuildConversations groups messages into one view per conversation.
// Views are ordered by their latest message, newest first, with ties
// broken by conversation id. A conversation without a stored contact gets
// one synthesized from its first message.
func BuildConversations(messages []model.Message, contacts []model.Contact) []model.ConversationView {
	known := make(map[string]model.Contact, len(contacts))
	for _, c := range contacts {
		known[c.ConversationID] = c
	}

	groups := make(map[string][]model.Message)
	var order []string
	for _, m := range messages {
		if _, ok := groups[m.ConversationID]; !ok {
			order = append(order, m.ConversationID)
		}
		groups[m.ConversationID] = append(groups[m.ConversationID], m)
	}

	views := make([]model.ConversationView, 0, len(order))
	for _, id := range order {
		msgs := groups[id]
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})

		v := model.ConversationView{Messages: msgs}
		for _, m := range msgs {
			if m.Direction == model.Incoming && m.DeliveryState != model.Read {
				v.UnreadCount++
			}
		}
		last := msgs[len(msgs)-1]
		v.LastMessage = &last

		c, ok := known[id]
		if !ok {
			c = model.Contact{
				ConversationID: id,
				DisplayName:    msgs[0].DisplayName,
				Phone:          msgs[0].CounterpartPhone,
			}
		}
		v.Contact = c

		views = append(views, v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		ti, tj := lastActivity(views[i]), lastActivity(views[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return views[i].Contact.ConversationID < views[j].Contact.ConversationID
	})
	return views
}

func lastActivity(v model.ConversationView) time.Time {
	if v.LastMessage == nil {
		return time.Unix(0, 0)
	}
	return v.LastMessage.CreatedAt
}
