package realtime

import "time"

// Wire event names, shared with the chat backend.
const (
	evtJoinChat      = "join_chat"
	evtLeaveChat     = "leave_chat"
	evtGetChatStatus = "get_chat_status"
	evtSendMessage   = "send_message"
	evtMarkRead      = "mark_read"

	evtMessage     = "message"
	evtMessageSent = "message_sent"
	evtChatStatus  = "chat_status"
	evtChatUpdated = "chat_updated"
	evtError       = "error"
)

// MessageEvent is a chat message as it arrives on the wire.
type MessageEvent struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"senderId,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Confirmation acknowledges a send with the server-issued message. ClientRef
// echoes the correlation id the client attached to the outgoing frame; older
// servers omit it.
type Confirmation struct {
	ChatID    string       `json:"chatId"`
	ClientRef string       `json:"clientRef,omitempty"`
	Message   MessageEvent `json:"message"`
}

// StatusEvent is a one-shot presence snapshot for a joined room.
type StatusEvent struct {
	ChatID            string `json:"chatId"`
	IsOtherUserOnline bool   `json:"isOtherUserOnline"`
}

// UpdateEvent is a conversation-list summary update.
type UpdateEvent struct {
	ChatID          string    `json:"chatId"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	Sender          string    `json:"sender"`
	IsNewChat       bool      `json:"isNewChat"`
}

// ErrorEvent reports a server-side failure. ChatID and ClientRef are set when
// the failure concerns a specific send.
type ErrorEvent struct {
	ChatID    string `json:"chatId,omitempty"`
	ClientRef string `json:"clientRef,omitempty"`
	Message   string `json:"message"`
}

type sendPayload struct {
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
	ClientRef string `json:"clientRef,omitempty"`
}
