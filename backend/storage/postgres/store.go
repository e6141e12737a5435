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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, public_key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = $2, public_key = $3`,
		user.UserID, user.Username, user.PublicKey, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("save user %s: %w", user.UserID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, public_key, created_at FROM users
		WHERE user_id = $1`, userID).Scan(&u.UserID, &u.Username, &u.PublicKey, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &u, nil
}

func (s *Store) GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, public_key, created_at FROM users
		WHERE user_id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.User, len(userIDs))
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.UserID, &u.Username, &u.PublicKey, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out[u.UserID] = &u
	}
	return out, rows.Err()
}

func (s *Store) CreateChat(ctx context.Context, chat *models.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (chat_id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4)`,
		chat.ChatID, chat.Name, chat.CreatedBy, chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat %s: %w", chat.ChatID, err)
	}

	for i, key := range chat.Keys {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_keys (chat_id, user_id, wrapped_key, position)
			VALUES ($1, $2, $3, $4)`,
			chat.ChatID, key.UserID, key.WrappedKey, i)
		if err != nil {
			return fmt.Errorf("insert chat key for %s: %w", key.UserID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var (
		c       models.Chat
		current sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, name, created_by, current_group_id, created_at FROM chats
		WHERE chat_id = $1`, chatID).Scan(&c.ChatID, &c.Name, &c.CreatedBy, &current, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("chat", chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	c.CurrentGroupID = current.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, wrapped_key FROM chat_keys
		WHERE chat_id = $1 ORDER BY position`, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat keys %s: %w", chatID, err)
	}
	defer rows.Close()

	for rows.Next() {
		k := models.ChatKey{ChatID: chatID}
		if err := rows.Scan(&k.UserID, &k.WrappedKey); err != nil {
			return nil, fmt.Errorf("scan chat key: %w", err)
		}
		c.Keys = append(c.Keys, k)
		c.Members = append(c.Members, k.UserID)
	}
	return &c, rows.Err()
}

func (s *Store) GetContacts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT other.user_id FROM chat_keys mine
		JOIN chat_keys other ON other.chat_id = mine.chat_id
		WHERE mine.user_id = $1 AND other.user_id <> $1
		ORDER BY other.user_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("get contacts %s: %w", userID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func now() time.Time {
	return time.Now().UTC()
}
