// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vault

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efmsg/backend/errs"
)

func TestStoreFetchRemove(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v := New(logger)

	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, v.Store("alice", priv))
	got, ok := v.Fetch("alice")
	require.True(t, ok)
	assert.Equal(t, priv, got[:])
	assert.Equal(t, 1, v.Len())

	assert.True(t, v.Remove("alice"))
	assert.False(t, v.Remove("alice"))
	_, ok = v.Fetch("alice")
	assert.False(t, ok)
}

func TestStoreRejectsBadKey(t *testing.T) {
	v := New(nil)
	assert.ErrorIs(t, v.Store("alice", []byte("short")), errs.ErrValidation)
	assert.ErrorIs(t, v.Store("", make([]byte, KeySize)), errs.ErrValidation)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	wrapped, err := Wrap([]byte("chat key material"), pub)
	require.NoError(t, err)

	var key [KeySize]byte
	copy(key[:], priv)
	out, err := Unwrap(wrapped, key)
	require.NoError(t, err)
	assert.Equal(t, "chat key material", string(out))
}

func TestUnwrapWithWrongKey(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, other, err := GenerateKeyPair()
	require.NoError(t, err)

	wrapped, err := Wrap([]byte("secret"), pub)
	require.NoError(t, err)

	var key [KeySize]byte
	copy(key[:], other)
	_, err = Unwrap(wrapped, key)
	assert.ErrorIs(t, err, errs.ErrCrypto)
}

func TestUnwrapForSurfacesAsSessionFailure(t *testing.T) {
	v := New(nil)
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	wrapped, err := Wrap([]byte("k"), pub)
	require.NoError(t, err)

	_, err = v.UnwrapFor("alice", wrapped)
	assert.ErrorIs(t, err, errs.ErrSessionKeyMissing)

	_, wrong, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, v.Store("alice", wrong))
	_, err = v.UnwrapFor("alice", wrapped)
	assert.ErrorIs(t, err, errs.ErrSessionKeyMissing)
	assert.ErrorIs(t, err, errs.ErrCrypto)

	require.NoError(t, v.Store("alice", priv))
	out, err := v.UnwrapFor("alice", wrapped)
	require.NoError(t, err)
	assert.Equal(t, "k", string(out))
}

func TestMatches(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.True(t, Matches(priv, pub))
	assert.False(t, Matches(priv, otherPub))
	assert.False(t, Matches([]byte("bad"), pub))
}
