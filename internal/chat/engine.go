package chat

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dlord213/onestay-web/internal/errs"
	"github.com/dlord213/onestay-web/internal/realtime"
)

// Transport is the realtime side of a send, satisfied by *realtime.Client.
type Transport interface {
	Connected() bool
	SendMessage(chatID, text, clientRef string) error
	MarkRead(chatID string) error
}

// FallbackRequest is the request/response send used while disconnected.
type FallbackRequest struct {
	ResortID   string
	CustomerID string
	Sender     Sender
	Text       string
}

// FallbackSender returns the full updated message list for the conversation.
type FallbackSender interface {
	SendViaRequestResponse(ctx context.Context, req FallbackRequest) ([]Message, error)
}

type pendingSend struct {
	chatID string
	tempID string
	text   string
	// summary before the optimistic insert, for rollback when the
	// conversation holds no other message bodies
	prevLast string
	prevTime time.Time
}

// Config wires the engine's collaborators explicitly; nothing is read from
// package-level state.
type Config struct {
	UserID    string
	Transport Transport
	Fallback  FallbackSender
	// Reload triggers a full conversation-list refetch. Invoked on its own
	// goroutine when a summary update references a chat we do not hold.
	Reload func()
	// OnSendError surfaces asynchronous send failures, once per failed send.
	OnSendError func(chatID string, err error)
	Log         *zap.SugaredLogger
}

// Engine owns the authoritative in-memory conversation list for the session.
// All mutation flows through its methods; readers get copies. It sends
// outgoing messages, keeps optimistic entries until the server confirms them
// and reconciles confirmations, inbound messages and list-level updates.
type Engine struct {
	cfg Config
	log *zap.SugaredLogger

	mu          sync.Mutex
	convs       map[string]*Conversation
	order       []*Conversation
	pending     map[string]pendingSend // client correlation id -> optimistic send
	openChat    string
	otherOnline bool
}

func NewEngine(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:     cfg,
		log:     log,
		convs:   make(map[string]*Conversation),
		pending: make(map[string]pendingSend),
	}
}

// Load replaces the conversation list, typically from the REST fetch on
// screen entry or after a reload trigger.
func (e *Engine) Load(convs []Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.convs = make(map[string]*Conversation, len(convs))
	e.order = e.order[:0]
	for i := range convs {
		c := convs[i].clone()
		e.convs[c.ID] = &c
		e.order = append(e.order, &c)
	}
	e.sortLocked()
}

// OpenChat marks the conversation the user is viewing. Presence is scoped to
// it and resets on every change of membership.
func (e *Engine) OpenChat(chatID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openChat = chatID
	e.otherOnline = false
}

func (e *Engine) CloseChat() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openChat = ""
	e.otherOnline = false
}

// SendMessage validates, inserts the optimistic entry and routes the send
// over the realtime channel or, when disconnected, the request/response
// fallback. On any failure the optimistic entry is rolled back and the error
// returned; no retry is attempted.
func (e *Engine) SendMessage(ctx context.Context, chatID, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errs.ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLen {
		return errs.ErrMessageTooLong
	}

	now := time.Now()
	tempID := fmt.Sprintf("%s%d_%d", TempIDPrefix, now.UnixMilli(), rand.Int63())
	clientRef := uuid.NewString()

	e.mu.Lock()
	conv, ok := e.convs[chatID]
	if !ok {
		e.mu.Unlock()
		return errs.ErrUnknownChat
	}
	p := pendingSend{
		chatID:   chatID,
		tempID:   tempID,
		text:     trimmed,
		prevLast: conv.LastMessage,
		prevTime: conv.LastMessageTime,
	}
	conv.Messages = append(conv.Messages, Message{
		ID:        tempID,
		ChatID:    chatID,
		Sender:    SenderOwner,
		SenderID:  e.cfg.UserID,
		Text:      trimmed,
		Timestamp: now,
	})
	conv.LastMessage = trimmed
	conv.LastMessageTime = now
	e.sortLocked()

	connected := e.cfg.Transport.Connected()
	if connected {
		e.pending[clientRef] = p
	}
	customerID, resortID := conv.CustomerID, conv.ResortID
	e.mu.Unlock()

	if connected {
		if err := e.cfg.Transport.SendMessage(chatID, trimmed, clientRef); err != nil {
			e.mu.Lock()
			delete(e.pending, clientRef)
			e.rollbackLocked(p)
			e.mu.Unlock()
			return fmt.Errorf("send message: %w", err)
		}
		return nil
	}

	msgs, err := e.cfg.Fallback.SendViaRequestResponse(ctx, FallbackRequest{
		ResortID:   resortID,
		CustomerID: customerID,
		Sender:     SenderOwner,
		Text:       trimmed,
	})
	if err != nil {
		e.mu.Lock()
		e.rollbackLocked(p)
		e.mu.Unlock()
		return fmt.Errorf("fallback send: %w", err)
	}
	if len(msgs) > 0 {
		final := msgs[len(msgs)-1]
		e.mu.Lock()
		e.adoptLocked(chatID, tempID, final.ID, final.Timestamp)
		e.mu.Unlock()
	}
	return nil
}

// HandleConfirmation reconciles an optimistic entry with the server-issued
// identity. The echoed client correlation id is the primary match; text
// equality within the conversation remains as a fallback for servers that do
// not echo it. Duplicate confirmations are no-ops: only entries still
// carrying the temporary prefix are touched.
func (e *Engine) HandleConfirmation(ev realtime.Confirmation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.ClientRef != "" {
		p, ok := e.pending[ev.ClientRef]
		if !ok {
			return
		}
		delete(e.pending, ev.ClientRef)
		e.adoptLocked(p.chatID, p.tempID, ev.Message.ID, ev.Message.Timestamp)
		return
	}

	conv, ok := e.convs[ev.ChatID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if conv.Messages[i].Pending() && conv.Messages[i].Text == ev.Message.Text {
			for ref, p := range e.pending {
				if p.chatID == ev.ChatID && p.text == ev.Message.Text {
					delete(e.pending, ref)
					break
				}
			}
			e.adoptLocked(ev.ChatID, conv.Messages[i].ID, ev.Message.ID, ev.Message.Timestamp)
			return
		}
	}
}

// HandleInbound applies a message event from the realtime channel. Echoes of
// our own sends are dropped; the optimistic path already covers them.
func (e *Engine) HandleInbound(ev realtime.MessageEvent) {
	if ev.SenderID == e.cfg.UserID {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[ev.ChatID]
	if !ok {
		e.log.Debugw("message for unknown chat dropped", "chatId", ev.ChatID)
		return
	}

	if ev.ChatID == e.openChat {
		conv.Messages = append(conv.Messages, Message{
			ID:        ev.ID,
			ChatID:    ev.ChatID,
			Sender:    Sender(ev.Sender),
			SenderID:  ev.SenderID,
			Text:      ev.Text,
			Timestamp: ev.Timestamp,
		})
	} else if Sender(ev.Sender) == SenderCustomer {
		conv.UnreadCount++
	}
	conv.LastMessage = ev.Text
	conv.LastMessageTime = ev.Timestamp
	e.sortLocked()
}

// HandleChatUpdate applies a list-level summary update. Updates that
// reference a chat we do not hold trigger a full reload instead of a partial
// insert.
func (e *Engine) HandleChatUpdate(ev realtime.UpdateEvent) {
	e.mu.Lock()
	conv, exists := e.convs[ev.ChatID]
	if !exists {
		e.mu.Unlock()
		if ev.IsNewChat {
			e.log.Infow("new chat detected, reloading list", "chatId", ev.ChatID)
		} else {
			e.log.Warnw("update for unknown chat, reloading list", "chatId", ev.ChatID)
		}
		if e.cfg.Reload != nil {
			go e.cfg.Reload()
		}
		return
	}

	conv.LastMessage = ev.LastMessage
	conv.LastMessageTime = ev.LastMessageTime
	// the open conversation is being read; only background chats accrue unread
	if ev.ChatID != e.openChat && Sender(ev.Sender) == SenderCustomer {
		conv.UnreadCount++
	}
	e.sortLocked()
	e.mu.Unlock()
}

// HandleStatus updates presence for the open conversation; snapshots for
// other rooms are discarded.
func (e *Engine) HandleStatus(ev realtime.StatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ev.ChatID != e.openChat {
		return
	}
	e.otherOnline = ev.IsOtherUserOnline
}

// HandleError rolls back the optimistic entry of a failed send when the
// error event carries its correlation id. Connection-level errors without a
// ref are left to the connection listeners.
func (e *Engine) HandleError(ev realtime.ErrorEvent) {
	if ev.ClientRef == "" {
		return
	}
	e.mu.Lock()
	p, ok := e.pending[ev.ClientRef]
	if ok {
		delete(e.pending, ev.ClientRef)
		e.rollbackLocked(p)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if e.cfg.OnSendError != nil {
		e.cfg.OnSendError(p.chatID, fmt.Errorf("send failed: %s", ev.Message))
	}
}

// MarkAsRead zeroes the local unread count immediately and fires the read
// receipt without awaiting acknowledgment.
func (e *Engine) MarkAsRead(chatID string) {
	e.mu.Lock()
	if conv, ok := e.convs[chatID]; ok {
		conv.UnreadCount = 0
	}
	e.mu.Unlock()

	if e.cfg.Transport.Connected() {
		if err := e.cfg.Transport.MarkRead(chatID); err != nil {
			e.log.Debugw("read receipt not delivered", "chatId", chatID, "err", err)
		}
	}
}

// Conversations returns a copy of the list, most recently active first.
func (e *Engine) Conversations() []Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Conversation, 0, len(e.order))
	for _, c := range e.order {
		out = append(out, c.clone())
	}
	return out
}

// Conversation returns a copy of one conversation.
func (e *Engine) Conversation(chatID string) (Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[chatID]
	if !ok {
		return Conversation{}, false
	}
	return conv.clone(), true
}

// ConnectionState reports connectivity plus presence for the open chat.
func (e *Engine) ConnectionState() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ConnectionState{
		Connected:        e.cfg.Transport.Connected(),
		OtherPartyOnline: e.otherOnline,
	}
}

// adoptLocked gives an optimistic entry its confirmed identity. Entries that
// already carry a server id are left alone, which makes duplicate
// confirmations harmless.
func (e *Engine) adoptLocked(chatID, tempID, finalID string, ts time.Time) {
	conv, ok := e.convs[chatID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID != tempID {
			continue
		}
		if !conv.Messages[i].Pending() {
			return
		}
		conv.Messages[i].ID = finalID
		conv.Messages[i].Timestamp = ts
		if i == len(conv.Messages)-1 {
			conv.LastMessageTime = ts
		}
		e.sortLocked()
		return
	}
}

// rollbackLocked removes a failed optimistic entry and restores the summary
// from whatever message is now last, or from the pre-send summary when no
// message bodies are loaded.
func (e *Engine) rollbackLocked(p pendingSend) {
	conv, ok := e.convs[p.chatID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == p.tempID {
			conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
			break
		}
	}
	if n := len(conv.Messages); n > 0 {
		conv.LastMessage = conv.Messages[n-1].Text
		conv.LastMessageTime = conv.Messages[n-1].Timestamp
	} else {
		conv.LastMessage = p.prevLast
		conv.LastMessageTime = p.prevTime
	}
	e.sortLocked()
}

func (e *Engine) sortLocked() {
	sort.SliceStable(e.order, func(i, j int) bool {
		return e.order[i].LastMessageTime.After(e.order[j].LastMessageTime)
	})
}
