package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlord213/onestay-web/internal/logger"
	"github.com/dlord213/onestay-web/internal/realtime"
)

type staticTokens struct{}

func (staticTokens) Token() string  { return "test-token" }
func (staticTokens) UserID() string { return "owner-1" }

// wsServer is a minimal chat backend double: it records inbound frames and
// lets tests push outbound ones.
type wsServer struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan realtime.Envelope
	mu     sync.Mutex
	conn   *websocket.Conn
	auth   chan string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		t:      t,
		frames: make(chan realtime.Envelope, 32),
		auth:   make(chan string, 1),
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.auth <- r.Header.Get("Authorization"):
		default:
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		for {
			var env realtime.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.frames <- env
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) push(t *testing.T, typ, chatID string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotNil(t, s.conn)
	require.NoError(t, s.conn.WriteJSON(realtime.Envelope{Type: typ, ChatID: chatID, Payload: b}))
}

func (s *wsServer) dropClient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *wsServer) nextFrame(t *testing.T) realtime.Envelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return realtime.Envelope{}
	}
}

func newTestClient(t *testing.T, url string) *realtime.Client {
	t.Helper()
	c := realtime.NewClient(realtime.Options{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		SendRate:         100,
	}, staticTokens{}, logger.Nop())
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.url())

	states := make(chan bool, 4)
	c.OnConnection(func(connected bool) { states <- connected })

	require.True(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.True(t, <-states)
	assert.Equal(t, "Bearer test-token", <-srv.auth)

	require.True(t, c.Connect(context.Background()), "second connect is a no-op")
	select {
	case s := <-states:
		t.Fatalf("no event expected for idempotent connect, got %v", s)
	case <-time.After(100 * time.Millisecond):
	}

	c.Disconnect()
	assert.False(t, <-states)
	assert.False(t, c.Connected())
	c.Disconnect() // safe when already down
}

func TestConnectFailureEmitsErrorEvent(t *testing.T) {
	srv := newWSServer(t)
	url := srv.url()
	srv.srv.Close()

	c := newTestClient(t, url)
	errors := make(chan realtime.ErrorEvent, 1)
	c.OnError(func(ev realtime.ErrorEvent) { errors <- ev })

	assert.False(t, c.Connect(context.Background()))
	assert.False(t, c.Connected())
	select {
	case ev := <-errors:
		assert.NotEmpty(t, ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error event for the failed connect")
	}
}

func TestJoinLeaveAndOutgoingFrames(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.url())

	c.JoinChat("c1")
	assert.False(t, c.Joined("c1"), "join before connect is a no-op")

	require.True(t, c.Connect(context.Background()))
	c.JoinChat("c1")
	assert.True(t, c.Joined("c1"))

	env := srv.nextFrame(t)
	assert.Equal(t, "join_chat", env.Type)
	assert.Equal(t, "c1", env.ChatID)

	require.NoError(t, c.SendMessage("c1", "Hello", "ref-1"))
	env = srv.nextFrame(t)
	assert.Equal(t, "send_message", env.Type)
	var payload struct {
		ChatID    string `json:"chatId"`
		Text      string `json:"text"`
		ClientRef string `json:"clientRef"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "c1", payload.ChatID)
	assert.Equal(t, "Hello", payload.Text)
	assert.Equal(t, "ref-1", payload.ClientRef)

	c.GetChatStatus("c1")
	assert.Equal(t, "get_chat_status", srv.nextFrame(t).Type)

	require.NoError(t, c.MarkRead("c1"))
	assert.Equal(t, "mark_read", srv.nextFrame(t).Type)

	c.LeaveChat("c1")
	assert.Equal(t, "leave_chat", srv.nextFrame(t).Type)
	assert.False(t, c.Joined("c1"))
}

func TestSendWhileDisconnected(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.url())
	assert.Error(t, c.SendMessage("c1", "Hello", "ref-1"))
	assert.Error(t, c.MarkRead("c1"))
}

func TestInboundDispatch(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.url())

	messages := make(chan realtime.MessageEvent, 1)
	confirms := make(chan realtime.Confirmation, 1)
	statuses := make(chan realtime.StatusEvent, 2)
	updates := make(chan realtime.UpdateEvent, 1)
	errevents := make(chan realtime.ErrorEvent, 1)
	c.OnMessage(func(ev realtime.MessageEvent) { messages <- ev })
	c.OnMessageSent(func(ev realtime.Confirmation) { confirms <- ev })
	c.OnChatStatus(func(ev realtime.StatusEvent) { statuses <- ev })
	c.OnChatUpdate(func(ev realtime.UpdateEvent) { updates <- ev })
	c.OnError(func(ev realtime.ErrorEvent) { errevents <- ev })

	require.True(t, c.Connect(context.Background()))
	c.JoinChat("c1")
	srv.nextFrame(t) // join frame

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv.push(t, "message", "c1", map[string]any{
		"_id": "m1", "chatId": "c1", "sender": "customer", "senderId": "customer42",
		"text": "hi", "timestamp": ts,
	})
	ev := <-messages
	assert.Equal(t, "m1", ev.ID)
	assert.Equal(t, "customer42", ev.SenderID)
	assert.True(t, ev.Timestamp.Equal(ts))

	srv.push(t, "message_sent", "c1", map[string]any{
		"chatId": "c1", "clientRef": "ref-9",
		"message": map[string]any{"_id": "m2", "text": "yo", "timestamp": ts},
	})
	conf := <-confirms
	assert.Equal(t, "ref-9", conf.ClientRef)
	assert.Equal(t, "m2", conf.Message.ID)

	// status for an unjoined room must be discarded
	srv.push(t, "chat_status", "c9", map[string]any{"chatId": "c9", "isOtherUserOnline": true})
	srv.push(t, "chat_status", "c1", map[string]any{"chatId": "c1", "isOtherUserOnline": true})
	st := <-statuses
	assert.Equal(t, "c1", st.ChatID, "only joined-room status may be delivered")
	assert.True(t, st.IsOtherUserOnline)

	srv.push(t, "chat_updated", "c1", map[string]any{
		"chatId": "c1", "lastMessage": "hi", "lastMessageTime": ts, "sender": "customer", "isNewChat": false,
	})
	up := <-updates
	assert.Equal(t, "hi", up.LastMessage)

	srv.push(t, "error", "", "something broke")
	ee := <-errevents
	assert.Equal(t, "something broke", ee.Message)
}

func TestServerDropFlipsConnectionState(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.url())

	states := make(chan bool, 2)
	c.OnConnection(func(connected bool) { states <- connected })

	require.True(t, c.Connect(context.Background()))
	require.True(t, <-states)
	c.JoinChat("c1")

	srv.dropClient()
	select {
	case connected := <-states:
		assert.False(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connection-down event after server drop")
	}
	assert.False(t, c.Connected())
	assert.False(t, c.Joined("c1"), "memberships are not retained across drops")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := newWSServer(t)
	c := newTestClient(t, srv.url())

	got := make(chan realtime.UpdateEvent, 2)
	unsub := c.OnChatUpdate(func(ev realtime.UpdateEvent) { got <- ev })
	require.True(t, c.Connect(context.Background()))

	srv.push(t, "chat_updated", "c1", map[string]any{"chatId": "c1", "lastMessage": "one"})
	assert.Equal(t, "one", (<-got).LastMessage)

	unsub()
	srv.push(t, "chat_updated", "c1", map[string]any{"chatId": "c1", "lastMessage": "two"})
	select {
	case ev := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
