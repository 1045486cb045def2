package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlord213/onestay-web/internal/api"
	"github.com/dlord213/onestay-web/internal/chat"
	"github.com/dlord213/onestay-web/internal/errs"
	"github.com/dlord213/onestay-web/internal/logger"
)

type tokens string

func (t tokens) Token() string { return string(t) }

func newTestClient(srv *httptest.Server, tok string) *api.Client {
	return api.NewClient(api.ClientConfig{
		BaseURL:         srv.URL,
		Timeout:         2 * time.Second,
		RetryMaxElapsed: 5 * time.Second,
	}, tokens(tok), logger.Nop())
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana@example.com", body["email"])
		json.NewEncoder(w).Encode(api.AuthResult{
			Token: "tok-1",
			User:  api.User{ID: "u1", Username: "ana", Role: "owner"},
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv, "").Login(context.Background(), "ana@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "owner", res.User.Role)
}

func TestResortChatsTransform(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/resort/r1", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]map[string]any{{
			"_id":      "c1",
			"customer": map[string]any{"_id": "cust1", "username": "Ana", "avatar": "a.png"},
			"resort_id": "r1",
			"messages": []map[string]any{
				{"_id": "m1", "sender": "customer", "text": "hi", "timestamp": ts},
			},
			"last_message": "hi", "last_message_time": ts, "unread_count": 2,
		}})
	}))
	defer srv.Close()

	convs, err := newTestClient(srv, "tok-1").ResortChats(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "cust1", convs[0].CustomerID)
	assert.Equal(t, "Ana", convs[0].CustomerName)
	assert.Equal(t, 2, convs[0].UnreadCount)
	require.Len(t, convs[0].Messages, 1)
	assert.Equal(t, "c1", convs[0].Messages[0].ChatID, "messages inherit the chat id")
}

func TestSendViaRequestResponse(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/message", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "owner", body["sender"])
		assert.Equal(t, "Hi", body["text"])
		json.NewEncoder(w).Encode(map[string]any{
			"_id": "c2",
			"messages": []map[string]any{
				{"_id": "m1", "sender": "customer", "text": "earlier", "timestamp": ts},
				{"_id": "m200", "sender": "owner", "text": "Hi", "timestamp": ts},
			},
		})
	}))
	defer srv.Close()

	msgs, err := newTestClient(srv, "tok-1").SendViaRequestResponse(context.Background(), chat.FallbackRequest{
		ResortID: "r1", CustomerID: "cust1", Sender: chat.SenderOwner, Text: "Hi",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m200", msgs[len(msgs)-1].ID)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"_id": "c1"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv, "").GetChat(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "chat not found"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv, "").GetChat(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorContains(t, err, "chat not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := api.NewClient(api.ClientConfig{
		BaseURL:         srv.URL,
		Timeout:         time.Second,
		RetryMaxElapsed: time.Millisecond, // effectively one attempt per call
	}, tokens(""), logger.Nop())

	for i := 0; i < 6; i++ {
		_, err := c.GetChat(context.Background(), "c1", 0)
		require.Error(t, err)
	}
	seen := calls.Load()

	_, err := c.GetChat(context.Background(), "c1", 0)
	assert.ErrorIs(t, err, errs.ErrServiceUnavailable)
	assert.Equal(t, seen, calls.Load(), "open breaker must not reach the backend")
}
