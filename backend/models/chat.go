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

// ChatKey is one member's copy of the chat key, wrapped to their public key.
type ChatKey struct {
	ChatID     string `json:"chat_id" db:"chat_id"`
	UserID     string `json:"user_id" db:"user_id"`
	WrappedKey []byte `json:"-" db:"wrapped_key"`
}

// Chat membership and keys are fixed at creation. Adding or removing a
// member means creating a new chat.
type Chat struct {
	ChatID         string    `json:"chat_id" db:"chat_id"`
	Name           string    `json:"name" db:"name"`
	CreatedBy      string    `json:"created_by" db:"created_by"`
	Members        []string  `json:"members"`
	Keys           []ChatKey `json:"-"`
	CurrentGroupID string    `json:"current_group_id,omitempty" db:"current_group_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

func NewChat(chatID, name, createdBy string, members []string) (*Chat, error) {
	if chatID == "" {
		return nil, errs.Validation("chat_id is required")
	}
	if createdBy == "" {
		return nil, errs.Validation("created_by is required")
	}
	if len(members) == 0 {
		return nil, errs.Validation("chat needs at least one member")
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m == "" {
			return nil, errs.Validation("member id is empty")
		}
		if seen[m] {
			return nil, errs.Validation("duplicate member %s", m)
		}
		seen[m] = true
	}
	return &Chat{
		ChatID:    chatID,
		Name:      name,
		CreatedBy: createdBy,
		Members:   append([]string(nil), members...),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (c *Chat) IsMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// WrappedKeyFor returns the member's wrapped copy of the chat key.
func (c *Chat) WrappedKeyFor(userID string) ([]byte, bool) {
	for _, k := range c.Keys {
		if k.UserID == userID {
			return k.WrappedKey, true
		}
	}
	return nil, false
}

// Peers lists every member except userID.
func (c *Chat) Peers(userID string) []string {
	out := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		if m != userID {
			out = append(out, m)
		}
	}
	return out
}
