// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/storage"
	"github.com/efchatnet/efmsg/backend/storage/memory"
	"github.com/efchatnet/efmsg/backend/vault"
)

// headerAuth trusts X-User; it stands in for the host's auth.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), r.Header.Get("X-User"))))
	})
}

type testServer struct {
	rt     *Runtime
	store  *memory.Store
	server *httptest.Server
	keys   map[string][]byte
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	return newTestServerOn(t, nil, checks)
}

// newTestServerOn lets wrap put a decorator in front of the memory store.
func newTestServerOn(t *testing.T, wrap func(*memory.Store) storage.Store, checks map[string]HealthCheck) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	var backend storage.Store = store
	if wrap != nil {
		backend = wrap(store)
	}
	rt, err := New(Config{
		Store:         backend,
		IndexKey:      bytes.Repeat([]byte{7}, 32),
		GroupCapacity: 2,
		FlushDelay:    time.Hour,
		Logger:        logger,
		HealthChecks:  checks,
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	rt.RegisterRoutes(router, headerAuth)
	router.HandleFunc("/health", rt.Health).Methods("GET")
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{rt: rt, store: store, server: server, keys: map[string][]byte{}}
}

func (s *testServer) do(t *testing.T, user, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *testServer) enroll(t *testing.T, user string) {
	t.Helper()
	pub, priv, err := vault.GenerateKeyPair()
	require.NoError(t, err)
	s.keys[user] = priv

	resp, _ := s.do(t, user, "POST", "/api/e2e/keys", models.KeyRegistration{Username: user + "_name", PublicKey: pub})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = s.do(t, user, "POST", "/api/e2e/keys/session", models.SessionKey{PrivateKey: priv})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMessageFlow(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "alice")
	s.enroll(t, "bob")

	resp, chat := s.do(t, "alice", "POST", "/api/e2e/chats", map[string]any{"name": "pair", "members": []string{"bob"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chatID := chat["chat_id"].(string)
	assert.NotContains(t, chat, "keys")

	for _, text := range []string{"first rocket", "second", "third rocket"} {
		resp, body := s.do(t, "alice", "POST", "/api/e2e/chats/"+chatID+"/messages", map[string]string{"content": text})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, "accepted", body["status"])
	}

	resp, page := s.do(t, "bob", "GET", "/api/e2e/chats/"+chatID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := page["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "third rocket", msgs[0].(map[string]any)["content"])
	prev := page["previous_group_id"].(string)

	resp, page = s.do(t, "bob", "GET", "/api/e2e/chats/"+chatID+"/messages?group="+prev, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, page["messages"].([]any), 2)
	assert.NotContains(t, page, "previous_group_id")

	resp, found := s.do(t, "bob", "GET", "/api/e2e/chats/"+chatID+"/search?q=Rocket", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, found["messages"].([]any), 2)

	resp, _ = s.do(t, "mallory", "GET", "/api/e2e/chats/"+chatID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, "bob", "DELETE", "/api/e2e/keys/session", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body := s.do(t, "bob", "GET", "/api/e2e/chats/"+chatID+"/messages", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "reauthenticate", body["code"])

	resp, status := s.do(t, "bob", "GET", "/api/e2e/keys/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, status["registered"])
	assert.Equal(t, false, status["unlocked"])

	// The third message is still buffered until shutdown flushes it.
	require.Len(t, s.rt.Cache.Pending(chatID), 1)
	require.NoError(t, s.rt.Close(context.Background()))
	assert.Equal(t, 2, s.store.GroupCount(chatID))
}

func TestUnlockRejectsForeignKey(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "alice")
	_, otherPriv, err := vault.GenerateKeyPair()
	require.NoError(t, err)

	resp, body := s.do(t, "alice", "POST", "/api/e2e/keys/session", models.SessionKey{PrivateKey: otherPriv})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "crypto", body["code"])

	resp, _ = s.do(t, "nobody", "POST", "/api/e2e/keys/session", models.SessionKey{PrivateKey: otherPriv})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateChatWithUnregisteredMember(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "alice")
	resp, _ := s.do(t, "alice", "POST", "/api/e2e/chats", map[string]any{"members": []string{"ghost"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSendValidation(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "alice")

	resp, _ := s.do(t, "alice", "POST", "/api/e2e/chats/missing/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, "alice", "POST", "/api/e2e/chats/missing/messages", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, "", "GET", "/api/e2e/presence", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPresenceEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.enroll(t, "alice")
	s.enroll(t, "bob")
	resp, _ := s.do(t, "alice", "POST", "/api/e2e/chats", map[string]any{"members": []string{"bob"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	s.rt.Presence.OpenSession("bob", "test-channel")
	resp, body := s.do(t, "alice", "GET", "/api/e2e/presence", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"bob"}, body["online"])

	resp, body = s.do(t, "alice", "GET", "/api/e2e/presence/bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["online"])

	resp, body = s.do(t, "alice", "GET", "/api/e2e/presence/alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["online"])

	// carol shares no chat with alice.
	s.rt.Presence.OpenSession("carol", "carol-channel")
	resp, body = s.do(t, "alice", "GET", "/api/e2e/presence/carol", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotContains(t, body, "online")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	})
	resp, body := s.do(t, "", "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, false, body["healthy"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "unavailable"}, body["dependencies"])
}

func TestNewRequiresIndexKey(t *testing.T) {
	_, err := New(Config{Store: memory.New(), IndexKey: []byte("short")})
	assert.Error(t, err)
}

// deadlineStore fails flushes once their context is done, like a
// database driver would.
type deadlineStore struct {
	*memory.Store
}

func (s deadlineStore) FlushGroup(ctx context.Context, group *models.MessageGroup, msgs []*models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.FlushGroup(ctx, group, msgs)
}

func TestCloseFlushesWithIdleClientsAndExpiredContext(t *testing.T) {
	s := newTestServerOn(t, func(m *memory.Store) storage.Store { return deadlineStore{m} }, nil)
	s.enroll(t, "alice")
	s.enroll(t, "bob")
	resp, chat := s.do(t, "alice", "POST", "/api/e2e/chats", map[string]any{"members": []string{"bob"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chatID := chat["chat_id"].(string)

	// Clients that never read and never answer a close frame.
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{"X-User": []string{"bob"}},
		})
		cancel()
		require.NoError(t, err)
		defer conn.CloseNow()
	}
	require.Eventually(t, func() bool { return s.rt.Hub.Connections() == 3 }, 2*time.Second, 10*time.Millisecond)

	resp, _ = s.do(t, "alice", "POST", "/api/e2e/chats/"+chatID+"/messages", map[string]string{"content": "last words"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, s.rt.Cache.Pending(chatID), 1)

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.NoError(t, s.rt.Close(expired))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 1, s.store.GroupCount(chatID))
	assert.Eventually(t, func() bool { return s.rt.Hub.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
