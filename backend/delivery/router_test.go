// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/models"
)

type emission struct {
	channel string
	event   string
	payload any
}

type fakeEmitter struct {
	mu    sync.Mutex
	sent  []emission
	fails map[string]bool
}

func (f *fakeEmitter) Emit(_ context.Context, channelID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[channelID] {
		return errors.New("channel closed")
	}
	f.sent = append(f.sent, emission{channel: channelID, event: event, payload: payload})
	return nil
}

type fakePresence map[string][]string

func (p fakePresence) Channels(userID string) []string { return p[userID] }

type fakePusher struct {
	mu   sync.Mutex
	sent []models.PushNotification
	err  error
}

func (f *fakePusher) Push(_ context.Context, n models.PushNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakePusher) users() []string {
	var out []string
	for _, n := range f.sent {
		out = append(out, n.UserID)
	}
	return out
}

func TestRouteMixedRecipients(t *testing.T) {
	emitter := &fakeEmitter{}
	pusher := &fakePusher{}
	presence := fakePresence{
		"alice": {"a1", "a2"},
		"bob":   {"b1"},
	}
	logger, _ := test.NewNullLogger()
	r := NewRouter(emitter, presence, pusher, nil, logger)

	fallback := &models.PushNotification{Title: "chat", Body: "new message", Data: map[string]string{"chatId": "c"}}
	rep := r.Route(context.Background(), []string{"alice", "bob", "carol", "dave", "alice"}, "newMessage", "hi", fallback)

	assert.Equal(t, 3, rep.Emitted)
	assert.Equal(t, 2, rep.Pushed)
	assert.Empty(t, rep.Dropped)

	var channels []string
	for _, e := range emitter.sent {
		channels = append(channels, e.channel)
		assert.Equal(t, "newMessage", e.event)
		assert.Equal(t, "hi", e.payload)
	}
	assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, channels)
	assert.ElementsMatch(t, []string{"carol", "dave"}, pusher.users())
	for _, n := range pusher.sent {
		assert.Equal(t, "chat", n.Title)
		assert.Equal(t, "c", n.Data["chatId"])
	}
	assert.Empty(t, fallback.UserID)
}

func TestRouteWithoutFallbackDrops(t *testing.T) {
	emitter := &fakeEmitter{}
	pusher := &fakePusher{}
	logger, _ := test.NewNullLogger()
	r := NewRouter(emitter, fakePresence{"alice": {"a1"}}, pusher, nil, logger)

	rep := r.Route(context.Background(), []string{"alice", "bob"}, "userOnline", nil, nil)
	assert.Equal(t, 1, rep.Emitted)
	assert.Equal(t, []string{"bob"}, rep.Dropped)
	assert.Empty(t, pusher.sent)
}

func TestRouteFailuresAreNotRetried(t *testing.T) {
	emitter := &fakeEmitter{fails: map[string]bool{"a1": true}}
	pusher := &fakePusher{err: errors.New("queue down")}
	logger, hook := test.NewNullLogger()
	r := NewRouter(emitter, fakePresence{"alice": {"a1", "a2"}}, pusher, nil, logger)

	rep := r.Route(context.Background(), []string{"alice", "bob"}, "newMessage", nil, &models.PushNotification{Title: "t"})
	assert.Equal(t, 1, rep.Emitted)
	assert.Equal(t, 1, rep.EmitFailures)
	assert.Equal(t, 0, rep.Pushed)
	assert.Equal(t, 1, rep.PushFailures)
	assert.Len(t, pusher.sent, 1)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
