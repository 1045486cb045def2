package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dlord213/onestay-web/internal/errs"
)

const (
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// TokenSource supplies the bearer token for the socket handshake. Injected so
// the client never reaches into a process-wide session singleton.
type TokenSource interface {
	Token() string
	UserID() string
}

type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	SendRate         int // outgoing frames per second
	SendBuffer       int
}

// Client owns the lifecycle of the realtime channel: connect, disconnect and
// room membership, with typed event subscriptions for everything inbound.
// Room memberships are not re-established automatically after a reconnect;
// callers join again once connectivity returns.
type Client struct {
	opts    Options
	tokens  TokenSource
	log     *zap.SugaredLogger
	limiter *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan Envelope
	done      chan struct{}
	connected bool
	rooms     map[string]struct{}

	onMessage    hooks[MessageEvent]
	onSent       hooks[Confirmation]
	onStatus     hooks[StatusEvent]
	onUpdate     hooks[UpdateEvent]
	onConnection hooks[bool]
	onError      hooks[ErrorEvent]
}

func NewClient(opts Options, tokens TokenSource, log *zap.SugaredLogger) *Client {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.SendRate == 0 {
		opts.SendRate = 10
	}
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 256
	}
	return &Client{
		opts:    opts,
		tokens:  tokens,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendRate),
		rooms:   make(map[string]struct{}),
	}
}

// Connect establishes the channel. Idempotent when already connected. A
// failed dial is retried once with backoff; on final failure the client
// stays disconnected, an error event is emitted and false is returned.
func (c *Client) Connect(ctx context.Context) bool {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	hdr := http.Header{}
	if tok := c.tokens.Token(); tok != "" {
		hdr.Set("Authorization", "Bearer "+tok)
	}

	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, _, err = dialer.DialContext(ctx, c.opts.URL, hdr) //nolint:bodyclose
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		c.log.Warnw("socket connect failed", "url", c.opts.URL, "err", err)
		c.onError.emit(ErrorEvent{Message: err.Error()})
		return false
	}

	c.mu.Lock()
	if c.connected {
		// lost the race to a concurrent Connect
		c.mu.Unlock()
		_ = conn.Close()
		return true
	}
	c.conn = conn
	c.connected = true
	c.send = make(chan Envelope, c.opts.SendBuffer)
	c.done = make(chan struct{})
	c.rooms = make(map[string]struct{})
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.readPump(conn)
	go c.writePump(conn, send, done)

	c.onConnection.emit(true)
	return true
}

// Disconnect tears down the channel. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.teardown(nil)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// teardown flips the client into the disconnected state exactly once per
// connection and emits the state change.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	close(c.done)
	_ = c.conn.Close()
	c.conn = nil
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	if cause != nil {
		c.log.Warnw("socket dropped", "err", cause)
	}
	c.onConnection.emit(false)
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debugw("malformed frame dropped", "err", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case evtMessage:
		var ev MessageEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		if ev.ChatID == "" {
			ev.ChatID = env.ChatID
		}
		c.onMessage.emit(ev)
	case evtMessageSent:
		var ev Confirmation
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		if ev.ChatID == "" {
			ev.ChatID = env.ChatID
		}
		c.onSent.emit(ev)
	case evtChatStatus:
		var ev StatusEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		if ev.ChatID == "" {
			ev.ChatID = env.ChatID
		}
		// presence snapshots for rooms we never joined must not leak out
		if !c.Joined(ev.ChatID) {
			c.log.Debugw("status for unjoined room discarded", "chatId", ev.ChatID)
			return
		}
		c.onStatus.emit(ev)
	case evtChatUpdated:
		var ev UpdateEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		if ev.ChatID == "" {
			ev.ChatID = env.ChatID
		}
		c.onUpdate.emit(ev)
	case evtError:
		var ev ErrorEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			// some servers send the error as a bare string
			var msg string
			if json.Unmarshal(env.Payload, &msg) != nil {
				return
			}
			ev = ErrorEvent{ChatID: env.ChatID, Message: msg}
		}
		c.onError.emit(ev)
	default:
		c.log.Debugw("unknown frame type", "type", env.Type)
	}
}

func (c *Client) writePump(conn *websocket.Conn, send <-chan Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case env := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.teardown(err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown(err)
				return
			}
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (c *Client) enqueue(env Envelope) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return errs.ErrNotConnected
	}
	send, done := c.send, c.done
	c.mu.Unlock()

	select {
	case send <- env:
		return nil
	case <-done:
		return errs.ErrNotConnected
	}
}

// JoinChat registers interest in a conversation. No-op when not connected;
// callers defer the join until connectivity returns.
func (c *Client) JoinChat(chatID string) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.log.Debugw("join skipped, not connected", "chatId", chatID)
		return
	}
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()

	env, _ := newEnvelope(evtJoinChat, chatID, nil)
	_ = c.enqueue(env)
}

// LeaveChat unregisters a room membership and its presence subscription.
func (c *Client) LeaveChat(chatID string) {
	c.mu.Lock()
	delete(c.rooms, chatID)
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return
	}
	env, _ := newEnvelope(evtLeaveChat, chatID, nil)
	_ = c.enqueue(env)
}

// Joined reports whether a room membership is currently held.
func (c *Client) Joined(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[chatID]
	return ok
}

// GetChatStatus requests a one-time presence snapshot for a joined room; the
// answer arrives asynchronously as a StatusEvent.
func (c *Client) GetChatStatus(chatID string) {
	env, _ := newEnvelope(evtGetChatStatus, chatID, nil)
	if err := c.enqueue(env); err != nil {
		c.log.Debugw("status request skipped", "chatId", chatID, "err", err)
	}
}

// SendMessage transmits a message frame carrying the client correlation id
// the server echoes back in its confirmation.
func (c *Client) SendMessage(chatID, text, clientRef string) error {
	if !c.limiter.Allow() {
		return errs.ErrRateLimited
	}
	env, err := newEnvelope(evtSendMessage, chatID, sendPayload{ChatID: chatID, Text: text, ClientRef: clientRef})
	if err != nil {
		return err
	}
	return c.enqueue(env)
}

// MarkRead sends a best-effort read receipt; no confirmation is awaited.
func (c *Client) MarkRead(chatID string) error {
	env, _ := newEnvelope(evtMarkRead, chatID, nil)
	return c.enqueue(env)
}

func (c *Client) OnMessage(fn func(MessageEvent)) func() { return c.onMessage.add(fn) }

func (c *Client) OnMessageSent(fn func(Confirmation)) func() { return c.onSent.add(fn) }

func (c *Client) OnChatStatus(fn func(StatusEvent)) func() { return c.onStatus.add(fn) }

func (c *Client) OnChatUpdate(fn func(UpdateEvent)) func() { return c.onUpdate.add(fn) }

func (c *Client) OnConnection(fn func(bool)) func() { return c.onConnection.add(fn) }

func (c *Client) OnError(fn func(ErrorEvent)) func() { return c.onError.add(fn) }

// hooks is a subscriber registry; add returns the unsubscribe func.
type hooks[T any] struct {
	mu   sync.Mutex
	seq  int
	subs map[int]func(T)
}

func (h *hooks[T]) add(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(T))
	}
	h.seq++
	id := h.seq
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *hooks[T]) emit(v T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
