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

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/middleware"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status matching err's kind. Server faults
// are logged and hidden from the client.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := errs.HTTPStatus(err)
	body := errorBody{Error: err.Error()}
	switch {
	case errors.Is(err, errs.ErrSessionKeyMissing):
		body = errorBody{Error: "session key missing, log in again", Code: "reauthenticate"}
	case status == http.StatusConflict:
		body = errorBody{Error: "cryptographic check failed", Code: "crypto"}
	case status >= http.StatusInternalServerError:
		log.WithError(err).Error("request failed")
		body = errorBody{Error: http.StatusText(status)}
	}
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("invalid request body")
	}
	return nil
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	}
	return userID, ok
}
