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

// Package errs holds the error kinds shared by the message store.
// Callers classify with errors.Is; every layer wraps with %w.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthorization = errors.New("not authorized")
	ErrValidation    = errors.New("invalid request")
	ErrNotFound      = errors.New("not found")
	ErrCrypto        = errors.New("crypto failure")

	// ErrSessionKeyMissing means the vault holds no private key for the
	// caller, typically after a restart. The client must log in again.
	ErrSessionKeyMissing = fmt.Errorf("session key missing, re-authenticate: %w", ErrAuthorization)

	// ErrAuthentication is a failed AEAD tag check: tampering or wrong key.
	ErrAuthentication = fmt.Errorf("message authentication failed: %w", ErrCrypto)

	ErrUserKeyMissing = errors.New("user has no registered public key")
	ErrDistribution   = errors.New("chat key distribution failed")
	ErrNoActiveGroup  = errors.New("no active message group")
)

// Validation returns a validation error carrying a field-specific message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// NotFound returns a not-found error naming the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// HTTPStatus maps an error kind to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionKeyMissing):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUserKeyMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCrypto):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
