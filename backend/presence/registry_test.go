// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/metrics"
)

func newRegistry() *Registry {
	logger, _ := test.NewNullLogger()
	return New(nil, logger)
}

func TestMultipleChannelsPerUser(t *testing.T) {
	r := newRegistry()

	assert.True(t, r.OpenSession("u", "c1"))
	assert.False(t, r.OpenSession("u", "c2"))
	assert.Equal(t, []string{"c1", "c2"}, r.Channels("u"))

	dep, ok := r.CloseSession("c1")
	require.True(t, ok)
	assert.Equal(t, Departure{UserID: "u", IsNowOffline: false}, dep)
	assert.True(t, r.IsOnline("u"))

	dep, ok = r.CloseSession("c2")
	require.True(t, ok)
	assert.Equal(t, Departure{UserID: "u", IsNowOffline: true}, dep)
	assert.False(t, r.IsOnline("u"))
	assert.Empty(t, r.ListOnlineUsers())
}

func TestCloseUnknownChannel(t *testing.T) {
	r := newRegistry()
	dep, ok := r.CloseSession("nope")
	assert.False(t, ok)
	assert.Zero(t, dep)

	r.OpenSession("u", "c1")
	_, ok = r.CloseSession("c1")
	require.True(t, ok)
	_, ok = r.CloseSession("c1")
	assert.False(t, ok)
}

func TestReopenSameChannel(t *testing.T) {
	r := newRegistry()
	assert.True(t, r.OpenSession("u", "c1"))
	assert.False(t, r.OpenSession("u", "c1"))
	assert.Equal(t, []string{"c1"}, r.Channels("u"))
}

func TestChannelMovesBetweenUsers(t *testing.T) {
	r := newRegistry()
	r.OpenSession("a", "c1")
	assert.True(t, r.OpenSession("b", "c1"))

	assert.False(t, r.IsOnline("a"))
	assert.True(t, r.IsOnline("b"))
	assert.Equal(t, []string{"b"}, r.ListOnlineUsers())
}

func TestListOnlineUsers(t *testing.T) {
	r := newRegistry()
	r.OpenSession("carol", "c3")
	r.OpenSession("alice", "c1")
	r.OpenSession("bob", "c2")
	r.OpenSession("alice", "c4")
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.ListOnlineUsers())
}

func TestOnlineGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, _ := test.NewNullLogger()
	r := New(metrics.New(reg), logger)

	r.OpenSession("a", "c1")
	r.OpenSession("a", "c2")
	r.OpenSession("b", "c3")

	gauge := func() float64 {
		mfs, err := reg.Gather()
		require.NoError(t, err)
		for _, mf := range mfs {
			if mf.GetName() == "efmsg_presence_online_users" {
				return mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		t.Fatal("gauge not registered")
		return 0
	}
	assert.Equal(t, float64(2), gauge())
	r.CloseSession("c3")
	assert.Equal(t, float64(1), gauge())
}

func TestConcurrentSessionsStayConsistent(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", u)
			for c := 0; c < 50; c++ {
				ch := fmt.Sprintf("%s-c%d", user, c)
				r.OpenSession(user, ch)
				if c%2 == 0 {
					r.CloseSession(ch)
				}
			}
		}(u)
	}
	wg.Wait()

	assert.Len(t, r.ListOnlineUsers(), 8)
	for u := 0; u < 8; u++ {
		assert.Len(t, r.Channels(fmt.Sprintf("u%d", u)), 25)
	}
}
