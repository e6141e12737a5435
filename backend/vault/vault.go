// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package vault keeps decrypted user private keys in process memory and
// wraps small payloads (chat keys) to a user's X25519 public key.
//
// Nothing here is persisted. A restart empties the vault and every user
// has to log in again before they can read or send.
package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/efchatnet/efmsg/backend/errs"
)

const KeySize = 32

// Vault maps user ids to their decrypted private keys. Entries are
// added and removed only by the login/logout flow; there is no TTL.
type Vault struct {
	mu   sync.RWMutex
	keys map[string][KeySize]byte
	log  logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Vault {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Vault{
		keys: make(map[string][KeySize]byte),
		log:  log.WithField("component", "vault"),
	}
}

// Store caches a decrypted private key, replacing any previous one.
func (v *Vault) Store(userID string, privateKey []byte) error {
	if userID == "" {
		return errs.Validation("user_id is required")
	}
	if len(privateKey) != KeySize {
		return errs.Validation("private key must be %d bytes (got %d)", KeySize, len(privateKey))
	}
	var key [KeySize]byte
	copy(key[:], privateKey)

	v.mu.Lock()
	if old, ok := v.keys[userID]; ok {
		zero(old[:])
	}
	v.keys[userID] = key
	v.mu.Unlock()

	v.log.WithField("user_id", userID).Info("session key stored")
	return nil
}

// Fetch returns a copy of the user's private key.
func (v *Vault) Fetch(userID string) ([KeySize]byte, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok := v.keys[userID]
	return key, ok
}

// Remove evicts the user's key. It reports whether a key was present.
func (v *Vault) Remove(userID string) bool {
	v.mu.Lock()
	key, ok := v.keys[userID]
	if ok {
		zero(key[:])
		delete(v.keys, userID)
	}
	v.mu.Unlock()

	if ok {
		v.log.WithField("user_id", userID).Info("session key removed")
	}
	return ok
}

func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}

// UnwrapFor opens a payload wrapped to userID using the cached key.
// A missing key and a key that cannot open the payload both come back
// as ErrSessionKeyMissing so the client is sent to log in again.
func (v *Vault) UnwrapFor(userID string, wrapped []byte) ([]byte, error) {
	key, ok := v.Fetch(userID)
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, errs.ErrSessionKeyMissing)
	}
	payload, err := Unwrap(wrapped, key)
	if err != nil {
		v.log.WithField("user_id", userID).WithError(err).Warn("unwrap with session key failed")
		return nil, fmt.Errorf("user %s: %w: %w", userID, errs.ErrSessionKeyMissing, err)
	}
	return payload, nil
}

// Wrap seals payload to publicKey with an anonymous NaCl box.
func Wrap(payload, publicKey []byte) ([]byte, error) {
	if len(publicKey) != KeySize {
		return nil, fmt.Errorf("public key must be %d bytes: %w", KeySize, errs.ErrCrypto)
	}
	var pub [KeySize]byte
	copy(pub[:], publicKey)
	out, err := box.SealAnonymous(nil, payload, &pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: %v: %w", err, errs.ErrCrypto)
	}
	return out, nil
}

// Unwrap opens a payload produced by Wrap.
func Unwrap(wrapped []byte, privateKey [KeySize]byte) ([]byte, error) {
	pub, err := PublicKey(privateKey[:])
	if err != nil {
		return nil, err
	}
	out, ok := box.OpenAnonymous(nil, wrapped, (*[KeySize]byte)(pub), &privateKey)
	if !ok {
		return nil, fmt.Errorf("open wrapped payload: %w", errs.ErrCrypto)
	}
	return out, nil
}

// PublicKey derives the X25519 public key for privateKey.
func PublicKey(privateKey []byte) ([]byte, error) {
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %v: %w", err, errs.ErrCrypto)
	}
	return pub, nil
}

// Matches reports whether privateKey belongs to publicKey.
func Matches(privateKey, publicKey []byte) bool {
	derived, err := PublicKey(privateKey)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, publicKey) == 1
}

// GenerateKeyPair creates a fresh X25519 key pair.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key pair: %w", err)
	}
	return pub[:], priv[:], nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
