package model

import (
	"fmt"
	"time"
)

type Contact struct {
	ConversationID string    `json:"conversationId"`
	DisplayName    string    `json:"displayName"`
	Phone          string    `json:"phone,omitempty"`
	AvatarRef      *string   `json:"avatarRef"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
	IsOnline       bool      `json:"isOnline"`
}

// FallbackName is the display name used for a participant nobody has
// named yet.
func FallbackName(address string) string {
	return fmt.Sprintf("Contact %s", address)
}
