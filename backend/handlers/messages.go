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
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/messaging"
	"github.com/efchatnet/efmsg/backend/models"
)

type Messenger interface {
	Send(ctx context.Context, senderID, chatID, content string) (*models.Message, error)
	History(ctx context.Context, userID, chatID, groupID string) (*messaging.History, error)
	Search(ctx context.Context, userID, chatID, query string) ([]models.DecryptedMessage, error)
}

type MessageHandler struct {
	messages Messenger
	log      logrus.FieldLogger
}

func NewMessageHandler(m Messenger, log logrus.FieldLogger) *MessageHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MessageHandler{messages: m, log: log.WithField("component", "messages")}
}

type sendRequest struct {
	Content string `json:"content"`
}

// SendMessage answers 202: the message is buffered and will be written
// to storage later, so a crash before then loses it.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	msg, err := h.messages.Send(r.Context(), userID, mux.Vars(r)["chatId"], req.Content)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"message": msg,
	})
}

func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	page, err := h.messages.History(r.Context(), userID, mux.Vars(r)["chatId"], r.URL.Query().Get("group"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	found, err := h.messages.Search(r.Context(), userID, mux.Vars(r)["chatId"], r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": found})
}
