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

package storage

import (
	"context"

	"github.com/efchatnet/efmsg/backend/models"
)

// Lookups return an error wrapping errs.ErrNotFound when the record is absent.

type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error)
}

type ChatStore interface {
	// CreateChat persists the chat, its members and one wrapped key per
	// member atomically.
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	// GetContacts lists every user sharing at least one chat with userID.
	GetContacts(ctx context.Context, userID string) ([]string, error)
}

type MessageStore interface {
	// FlushGroup writes msgs, upserts the group with its full reference
	// list and points the chat's current group at it, in one unit.
	FlushGroup(ctx context.Context, group *models.MessageGroup, msgs []*models.Message) error
	GetGroup(ctx context.Context, groupID string) (*models.MessageGroup, error)
	// GetGroupMessages returns the group's messages in reference order.
	GetGroupMessages(ctx context.Context, groupID string) ([]*models.Message, error)
	// SearchMessages returns durable messages of chatID carrying every token.
	SearchMessages(ctx context.Context, chatID string, tokens [][]byte, limit int) ([]*models.Message, error)
}

type Store interface {
	UserStore
	ChatStore
	MessageStore
}
