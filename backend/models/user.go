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

package models

import (
	"time"

	"github.com/efchatnet/efmsg/backend/errs"
)

// PublicKeySize is the length of an X25519 public key.
const PublicKeySize = 32

// User is the durable identity record. The private key never lives here;
// it is held decrypted in the vault only while the user is logged in.
type User struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	PublicKey []byte    `json:"public_key" db:"public_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func NewUser(userID, username string, publicKey []byte) (*User, error) {
	if userID == "" {
		return nil, errs.Validation("user_id is required")
	}
	if username == "" {
		return nil, errs.Validation("username is required")
	}
	if len(publicKey) != PublicKeySize {
		return nil, errs.Validation("public key must be %d bytes (got %d)", PublicKeySize, len(publicKey))
	}
	return &User{
		UserID:    userID,
		Username:  username,
		PublicKey: append([]byte(nil), publicKey...),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// KeyRegistration is the body of a public key upload.
type KeyRegistration struct {
	Username  string `json:"username"`
	PublicKey []byte `json:"public_key"`
}

// SessionKey is handed over by the auth flow after it decrypts the
// user's private key at login.
type SessionKey struct {
	PrivateKey []byte `json:"private_key"`
}
