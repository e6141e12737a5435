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

// Package codec encrypts message bodies with XChaCha20-Poly1305 and
// derives keyed-hash search tokens from the plaintext.
package codec

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/efchatnet/efmsg/backend/errs"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSizeX
	TagSize   = chacha20poly1305.Overhead
)

// Sealed is an encrypted message body. The tag is kept apart from the
// ciphertext so storage can hold the three columns separately.
type Sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// Encode encrypts plaintext under chatKey with a fresh random nonce.
func Encode(plaintext []byte, chatKey []byte) (Sealed, error) {
	aead, err := chacha20poly1305.NewX(chatKey)
	if err != nil {
		return Sealed{}, fmt.Errorf("init cipher: %v: %w", err, errs.ErrCrypto)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}
	out := aead.Seal(nil, nonce, plaintext, nil)
	split := len(out) - TagSize
	return Sealed{
		Nonce:      nonce,
		Ciphertext: out[:split:split],
		Tag:        out[split:],
	}, nil
}

// Decode authenticates and decrypts s. A wrong key or any modification
// of nonce, ciphertext or tag yields ErrAuthentication.
func Decode(s Sealed, chatKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(chatKey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %v: %w", err, errs.ErrCrypto)
	}
	if len(s.Nonce) != NonceSize || len(s.Tag) != TagSize {
		return nil, errs.ErrAuthentication
	}
	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	out, err := aead.Open(nil, s.Nonce, buf, nil)
	if err != nil {
		return nil, errs.ErrAuthentication
	}
	return out, nil
}

// NewKey returns a random chat key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate chat key: %w", err)
	}
	return key, nil
}
