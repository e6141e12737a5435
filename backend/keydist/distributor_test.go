// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package keydist

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/storage/memory"
	"github.com/efchatnet/efmsg/backend/vault"
)

func register(t *testing.T, store *memory.Store, id string) []byte {
	t.Helper()
	pub, priv, err := vault.GenerateKeyPair()
	require.NoError(t, err)
	u, err := models.NewUser(id, id+"-name", pub)
	require.NoError(t, err)
	require.NoError(t, store.SaveUser(context.Background(), u))
	return priv
}

func TestCreateChatWrapsOneKeyPerMember(t *testing.T) {
	store := memory.New()
	logger, _ := test.NewNullLogger()
	d := New(store, logger)

	privs := map[string][]byte{
		"alice": register(t, store, "alice"),
		"bob":   register(t, store, "bob"),
		"carol": register(t, store, "carol"),
	}

	chat, err := d.CreateChat(context.Background(), "alice", "trio", []string{"bob", "carol", "bob", "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, chat.Members)
	require.Len(t, chat.Keys, 3)

	var first []byte
	for _, id := range chat.Members {
		wrapped, ok := chat.WrappedKeyFor(id)
		require.True(t, ok)
		var priv [vault.KeySize]byte
		copy(priv[:], privs[id])
		key, err := vault.Unwrap(wrapped, priv)
		require.NoError(t, err)
		if first == nil {
			first = key
		}
		assert.Equal(t, first, key, "every member must unwrap the same chat key")
	}

	stored, err := store.GetChat(context.Background(), chat.ChatID)
	require.NoError(t, err)
	assert.Len(t, stored.Keys, 3)
}

func TestCreateChatMissingPublicKey(t *testing.T) {
	store := memory.New()
	d := New(store, nil)
	register(t, store, "alice")

	_, err := d.CreateChat(context.Background(), "alice", "", []string{"ghost"})
	assert.ErrorIs(t, err, errs.ErrUserKeyMissing)
}

func TestCreateChatRequiresCreator(t *testing.T) {
	d := New(memory.New(), nil)
	_, err := d.CreateChat(context.Background(), "", "x", []string{"a"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreateChatWrapFailure(t *testing.T) {
	store := memory.New()
	d := New(store, nil)
	register(t, store, "alice")
	// Stored keys are validated on the way in, so corrupt one directly.
	require.NoError(t, store.SaveUser(context.Background(), &models.User{UserID: "bob", Username: "bob", PublicKey: []byte{1, 2, 3}}))

	_, err := d.CreateChat(context.Background(), "alice", "", []string{"bob"})
	assert.ErrorIs(t, err, errs.ErrDistribution)
}
