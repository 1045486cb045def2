package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dlord213/onestay-web/internal/chat"
)

// ResortChats lists the conversations for a resort, most recent first.
func (c *Client) ResortChats(ctx context.Context, resortID string) ([]chat.Conversation, error) {
	var out []apiChat
	if err := c.do(ctx, http.MethodGet, "/chat/resort/"+resortID, nil, &out); err != nil {
		return nil, fmt.Errorf("resort chats: %w", err)
	}
	convs := make([]chat.Conversation, 0, len(out))
	for _, a := range out {
		convs = append(convs, a.toConversation())
	}
	return convs, nil
}

// GetChat fetches one conversation with up to limit messages.
func (c *Client) GetChat(ctx context.Context, chatID string, limit int) (chat.Conversation, error) {
	path := "/chat/" + chatID
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out apiChat
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return chat.Conversation{}, fmt.Errorf("get chat: %w", err)
	}
	return out.toConversation(), nil
}

type sendMessageRequest struct {
	CustomerID string `json:"customer_id"`
	ResortID   string `json:"resort_id"`
	Sender     string `json:"sender"`
	Text       string `json:"text"`
}

// SendViaRequestResponse delivers a message over REST and returns the
// conversation's full updated message list. It is the fallback transport used
// while the realtime channel is down.
func (c *Client) SendViaRequestResponse(ctx context.Context, req chat.FallbackRequest) ([]chat.Message, error) {
	body := sendMessageRequest{
		CustomerID: req.CustomerID,
		ResortID:   req.ResortID,
		Sender:     string(req.Sender),
		Text:       req.Text,
	}
	var out apiChat
	if err := c.do(ctx, http.MethodPost, "/chat/message", body, &out); err != nil {
		return nil, fmt.Errorf("send via rest: %w", err)
	}
	return out.toConversation().Messages, nil
}
