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
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/errs"
)

type OnlineChecker interface {
	IsOnline(userID string) bool
}

type ContactLister interface {
	GetContacts(ctx context.Context, userID string) ([]string, error)
}

type PresenceHandler struct {
	presence OnlineChecker
	contacts ContactLister
	log      logrus.FieldLogger
}

func NewPresenceHandler(p OnlineChecker, contacts ContactLister, log logrus.FieldLogger) *PresenceHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PresenceHandler{presence: p, contacts: contacts, log: log.WithField("component", "presence")}
}

// ListOnline returns which of the caller's contacts are online.
func (h *PresenceHandler) ListOnline(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	contacts, err := h.contacts.GetContacts(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	online := make([]string, 0, len(contacts))
	for _, id := range contacts {
		if h.presence.IsOnline(id) {
			online = append(online, id)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": online})
}

// GetPresence reports one user's status. Only the caller and users who
// share a chat with the caller can be looked up.
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	userID := mux.Vars(r)["userId"]
	if userID != callerID {
		contacts, err := h.contacts.GetContacts(r.Context(), callerID)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		if !slices.Contains(contacts, userID) {
			writeError(w, h.log, fmt.Errorf("presence of %s: %w", userID, errs.ErrAuthorization))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"online":  h.presence.IsOnline(userID),
	})
}
