package model

// ConversationView is a derived, read-only projection of one
// conversation. It is never persisted.
type ConversationView struct {
	Contact     Contact   `json:"contact"`
	Messages    []Message `json:"messages"`
	UnreadCount int       `json:"unreadCount"`
	LastMessage *Message  `json:"lastMessage"`
}

type Stats struct {
	Messages    int64                   `json:"messages"`
	Contacts    int64                   `json:"contacts"`
	ByDirection map[Direction]int64     `json:"byDirection"`
	ByState     map[DeliveryState]int64 `json:"byState"`
}
