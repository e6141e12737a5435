// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("content is empty"), http.StatusBadRequest},
		{"session key", fmt.Errorf("send: %w", ErrSessionKeyMissing), http.StatusUnauthorized},
		{"not a member", fmt.Errorf("chat c1: %w", ErrAuthorization), http.StatusForbidden},
		{"not found", NotFound("chat", "c1"), http.StatusNotFound},
		{"tag mismatch", fmt.Errorf("decode: %w", ErrAuthentication), http.StatusConflict},
		{"user key", ErrUserKeyMissing, http.StatusUnprocessableEntity},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestKindsNest(t *testing.T) {
	assert.ErrorIs(t, ErrSessionKeyMissing, ErrAuthorization)
	assert.ErrorIs(t, ErrAuthentication, ErrCrypto)
	assert.NotErrorIs(t, ErrCrypto, ErrNotFound)
}
