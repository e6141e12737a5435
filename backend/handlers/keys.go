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

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/vault"
)

type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type SessionVault interface {
	Store(userID string, privateKey []byte) error
	Remove(userID string) bool
	Fetch(userID string) ([vault.KeySize]byte, bool)
}

type KeyHandler struct {
	store UserStore
	vault SessionVault
	log   logrus.FieldLogger
}

func NewKeyHandler(store UserStore, v SessionVault, log logrus.FieldLogger) *KeyHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &KeyHandler{store: store, vault: v, log: log.WithField("component", "keys")}
}

// RegisterKeys stores the caller's public key. Re-registering replaces it;
// chats created earlier keep the copies wrapped to the old key.
func (h *KeyHandler) RegisterKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var reg models.KeyRegistration
	if err := decode(w, r, &reg); err != nil {
		writeError(w, h.log, err)
		return
	}
	user, err := models.NewUser(userID, reg.Username, reg.PublicKey)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.store.SaveUser(r.Context(), user); err != nil {
		writeError(w, h.log, fmt.Errorf("save user %s: %w", userID, err))
		return
	}

	h.log.WithField("user_id", userID).Info("public key registered")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "keys registered"})
}

func (h *KeyHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	user, err := h.store.GetUser(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UnlockSession takes the private key the auth flow decrypted at login
// and caches it in the vault. It must match the registered public key.
func (h *KeyHandler) UnlockSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body models.SessionKey
	if err := decode(w, r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		if errs.HTTPStatus(err) == http.StatusNotFound {
			err = fmt.Errorf("user %s: %w", userID, errs.ErrUserKeyMissing)
		}
		writeError(w, h.log, err)
		return
	}
	if !vault.Matches(body.PrivateKey, user.PublicKey) {
		h.log.WithField("user_id", userID).Warn("session key does not match registered public key")
		writeError(w, h.log, fmt.Errorf("session key for %s: %w", userID, errs.ErrCrypto))
		return
	}
	if err := h.vault.Store(userID, body.PrivateKey); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "session unlocked"})
}

func (h *KeyHandler) LockSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.vault.Remove(userID)
	w.WriteHeader(http.StatusNoContent)
}

// GetKeyStatus tells the client whether it must register or log in again.
func (h *KeyHandler) GetKeyStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	_, err := h.store.GetUser(r.Context(), userID)
	registered := err == nil
	if err != nil && errs.HTTPStatus(err) != http.StatusNotFound {
		writeError(w, h.log, err)
		return
	}
	_, unlocked := h.vault.Fetch(userID)
	writeJSON(w, http.StatusOK, map[string]bool{
		"registered": registered,
		"unlocked":   unlocked,
	})
}
