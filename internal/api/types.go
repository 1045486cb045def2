package api

import (
	"time"

	"github.com/dlord213/onestay-web/internal/chat"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// AuthResult is the login/register response.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type Resort struct {
	ID       string `json:"_id"`
	Name     string `json:"resort_name"`
	Location string `json:"location"`
}

// apiChat is the chat document as the backend returns it. Newer responses
// nest the customer; older ones carry the denormalized fields directly.
type apiChat struct {
	ID              string         `json:"_id"`
	CustomerID      string         `json:"customer_id"`
	ResortID        string         `json:"resort_id"`
	CustomerName    string         `json:"customer_name"`
	CustomerAvatar  string         `json:"customer_avatar"`
	Customer        *chatCustomer  `json:"customer,omitempty"`
	Messages        []chat.Message `json:"messages"`
	LastMessage     string         `json:"last_message"`
	LastMessageTime time.Time      `json:"last_message_time"`
	UnreadCount     int            `json:"unread_count"`
}

type chatCustomer struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (a apiChat) toConversation() chat.Conversation {
	conv := chat.Conversation{
		ID:              a.ID,
		CustomerID:      a.CustomerID,
		ResortID:        a.ResortID,
		CustomerName:    a.CustomerName,
		CustomerAvatar:  a.CustomerAvatar,
		Messages:        a.Messages,
		LastMessage:     a.LastMessage,
		LastMessageTime: a.LastMessageTime,
		UnreadCount:     a.UnreadCount,
	}
	if a.Customer != nil {
		if conv.CustomerID == "" {
			conv.CustomerID = a.Customer.ID
		}
		if conv.CustomerName == "" {
			conv.CustomerName = a.Customer.Username
		}
		if conv.CustomerAvatar == "" {
			conv.CustomerAvatar = a.Customer.Avatar
		}
	}
	for i := range conv.Messages {
		if conv.Messages[i].ChatID == "" {
			conv.Messages[i].ChatID = conv.ID
		}
	}
	return conv
}
