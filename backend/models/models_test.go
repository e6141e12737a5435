// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/errs"
)

func TestNewUserValidates(t *testing.T) {
	_, err := NewUser("", "alice", make([]byte, PublicKeySize))
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewUser("u1", "alice", []byte{1, 2, 3})
	assert.ErrorIs(t, err, errs.ErrValidation)

	u, err := NewUser("u1", "alice", make([]byte, PublicKeySize))
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestNewChatRejectsDuplicateMembers(t *testing.T) {
	_, err := NewChat("c1", "team", "a", []string{"a", "b", "a"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	c, err := NewChat("c1", "team", "a", []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, c.IsMember("b"))
	assert.False(t, c.IsMember("z"))
	assert.Equal(t, []string{"b"}, c.Peers("a"))
}

func TestChatWrappedKeyFor(t *testing.T) {
	c := &Chat{Keys: []ChatKey{{UserID: "a", WrappedKey: []byte("ka")}, {UserID: "b", WrappedKey: []byte("kb")}}}
	k, ok := c.WrappedKeyFor("b")
	require.True(t, ok)
	assert.Equal(t, []byte("kb"), k)
	_, ok = c.WrappedKeyFor("c")
	assert.False(t, ok)
}

func TestMessageHasTokens(t *testing.T) {
	m, err := NewMessage("m1", "c1", "a", []byte{1}, []byte{2}, []byte{3}, [][]byte{[]byte("x"), []byte("y")}, time.Time{})
	require.NoError(t, err)
	assert.False(t, m.CreatedAt.IsZero())

	assert.True(t, m.HasTokens([][]byte{[]byte("x")}))
	assert.True(t, m.HasTokens([][]byte{[]byte("y"), []byte("x")}))
	assert.False(t, m.HasTokens([][]byte{[]byte("x"), []byte("z")}))
	assert.False(t, m.HasTokens(nil))
}
