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
)

type ChatCreator interface {
	CreateChat(ctx context.Context, creatorID, name string, memberIDs []string) (*models.Chat, error)
}

type ChatReader interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
}

type ChatHandler struct {
	creator ChatCreator
	chats   ChatReader
	log     logrus.FieldLogger
}

func NewChatHandler(creator ChatCreator, chats ChatReader, log logrus.FieldLogger) *ChatHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ChatHandler{creator: creator, chats: chats, log: log.WithField("component", "chats")}
}

type createChatRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createChatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	chat, err := h.creator.CreateChat(r.Context(), userID, req.Name, req.Members)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID := mux.Vars(r)["chatId"]
	chat, err := h.chats.GetChat(r.Context(), chatID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if !chat.IsMember(userID) {
		writeError(w, h.log, fmt.Errorf("chat %s: %w", chatID, errs.ErrAuthorization))
		return
	}
	writeJSON(w, http.StatusOK, chat)
}
