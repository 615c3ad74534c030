// Package domain contains core concepts of the direct messaging system.
// This file defines the persisted Message and the derived Conversation.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"time"

	"github.com/samber/lo"
)

// Message is a single persisted direct message.
// SenderID and ReceiverID never change after creation and IsRead only goes from false to true.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
	// ClientID is the reference chosen by the sending client for its optimistic copy.
	ClientID string `json:"clientId,omitempty"`
}

// Involves reports whether the message belongs to the conversation between a and b.
func (m Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Counterpart returns the other participant as seen by self.
func (m Message) Counterpart(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationKey orders the pair so that (a,b) and (b,a) share a key.
func ConversationKey(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// UnreadFrom counts the unread messages sent by sender.
func UnreadFrom(messages []Message, sender string) int {
	return lo.CountBy(messages, func(m Message) bool {
		return m.SenderID == sender && !m.IsRead
	})
}
