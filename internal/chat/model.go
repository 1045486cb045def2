package chat

import (
	"strings"
	"time"
)

// TempIDPrefix marks locally generated ids on optimistic messages; a
// server-issued id never carries it.
const TempIDPrefix = "temp_"

// MaxMessageLen is the message body limit in runes.
const MaxMessageLen = 500

type Sender string

const (
	SenderOwner    Sender = "owner"
	SenderCustomer Sender = "customer"
)

type Message struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Sender    Sender    `json:"sender"`
	SenderID  string    `json:"senderId,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Pending reports whether the message is still awaiting server confirmation.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

type Conversation struct {
	ID              string    `json:"_id"`
	CustomerID      string    `json:"customer_id"`
	ResortID        string    `json:"resort_id"`
	CustomerName    string    `json:"customer_name"`
	CustomerAvatar  string    `json:"customer_avatar"`
	Messages        []Message `json:"messages"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// ConnectionState is the reactive connectivity view exposed to the UI.
type ConnectionState struct {
	Connected        bool
	OtherPartyOnline bool
}
