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

// Package keydist creates chats and hands every member a wrapped copy of
// the chat's symmetric key.
package keydist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/codec"
	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/storage"
	"github.com/efchatnet/efmsg/backend/vault"
)

type Store interface {
	storage.UserStore
	storage.ChatStore
}

type Distributor struct {
	store Store
	log   logrus.FieldLogger
}

func New(store Store, log logrus.FieldLogger) *Distributor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Distributor{store: store, log: log.WithField("component", "keydist")}
}

// CreateChat generates one chat key and wraps a copy per member. The
// creator is added to memberIDs if absent. Keys are never re-wrapped:
// membership changes need a new chat.
func (d *Distributor) CreateChat(ctx context.Context, creatorID, name string, memberIDs []string) (*models.Chat, error) {
	if creatorID == "" {
		return nil, errs.Validation("creator is required")
	}
	members := uniqueMembers(creatorID, memberIDs)

	chat, err := models.NewChat(uuid.New().String(), name, creatorID, members)
	if err != nil {
		return nil, err
	}

	users, err := d.store.GetUsers(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	for _, id := range members {
		if u, ok := users[id]; !ok || len(u.PublicKey) == 0 {
			return nil, fmt.Errorf("member %s: %w", id, errs.ErrUserKeyMissing)
		}
	}

	chatKey, err := codec.NewKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDistribution, err)
	}
	defer zero(chatKey)

	chat.Keys = make([]models.ChatKey, 0, len(members))
	for _, id := range members {
		wrapped, err := vault.Wrap(chatKey, users[id].PublicKey)
		if err != nil {
			return nil, fmt.Errorf("wrap for %s: %w: %w", id, errs.ErrDistribution, err)
		}
		chat.Keys = append(chat.Keys, models.ChatKey{ChatID: chat.ChatID, UserID: id, WrappedKey: wrapped})
	}

	if err := d.store.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("store chat: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"chat_id": chat.ChatID,
		"members": len(members),
	}).Info("chat created")
	return chat, nil
}

func uniqueMembers(creatorID string, memberIDs []string) []string {
	out := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
