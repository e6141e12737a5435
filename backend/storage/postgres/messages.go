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

	"github.com/lib/pq"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
)

func (s *Store) FlushGroup(ctx context.Context, group *models.MessageGroup, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := group.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}
	// The group row goes first so messages can reference it.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_groups (group_id, chat_id, message_ids, previous_group_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id) DO UPDATE
		SET message_ids = EXCLUDED.message_ids`,
		group.GroupID, group.ChatID, pq.Array(group.MessageIDs), nullString(group.PreviousGroupID), createdAt)
	if err != nil {
		return fmt.Errorf("upsert group %s: %w", group.GroupID, err)
	}

	for _, m := range msgs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (message_id, chat_id, group_id, sender_id, nonce, ciphertext, tag, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (message_id) DO NOTHING`,
			m.MessageID, m.ChatID, group.GroupID, m.SenderID, m.Nonce, m.Ciphertext, m.Tag, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.MessageID, err)
		}
		for _, tok := range m.Tokens {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO message_tokens (message_id, chat_id, token)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`,
				m.MessageID, m.ChatID, tok)
			if err != nil {
				return fmt.Errorf("insert token for %s: %w", m.MessageID, err)
			}
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE chats SET current_group_id = $2 WHERE chat_id = $1`,
		group.ChatID, group.GroupID)
	if err != nil {
		return fmt.Errorf("advance current group of %s: %w", group.ChatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("chat", group.ChatID)
	}

	return tx.Commit()
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.MessageGroup, error) {
	var (
		g    models.MessageGroup
		prev sql.NullString
		ids  pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT group_id, chat_id, message_ids, previous_group_id, created_at FROM message_groups
		WHERE group_id = $1`, groupID).Scan(&g.GroupID, &g.ChatID, &ids, &prev, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("group", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", groupID, err)
	}
	g.MessageIDs = []string(ids)
	g.PreviousGroupID = prev.String
	return &g, nil
}

func (s *Store) GetGroupMessages(ctx context.Context, groupID string) ([]*models.Message, error) {
	// array_position keeps the order of the group's reference list.
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id, m.chat_id, m.group_id, m.sender_id, m.nonce, m.ciphertext, m.tag, m.created_at
		FROM messages m
		JOIN message_groups g ON g.group_id = m.group_id
		WHERE m.group_id = $1
		ORDER BY array_position(g.message_ids, m.message_id::text)`, groupID)
	if err != nil {
		return nil, fmt.Errorf("get messages of group %s: %w", groupID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) SearchMessages(ctx context.Context, chatID string, tokens [][]byte, limit int) ([]*models.Message, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id, m.chat_id, m.group_id, m.sender_id, m.nonce, m.ciphertext, m.tag, m.created_at
		FROM messages m
		WHERE m.chat_id = $1 AND m.message_id IN (
			SELECT t.message_id FROM message_tokens t
			WHERE t.chat_id = $1 AND t.token = ANY($2)
			GROUP BY t.message_id
			HAVING COUNT(DISTINCT t.token) = $3
		)
		ORDER BY m.created_at DESC
		LIMIT $4`, chatID, pq.ByteaArray(tokens), len(tokens), limit)
	if err != nil {
		return nil, fmt.Errorf("search chat %s: %w", chatID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.MessageID, &m.ChatID, &m.GroupID, &m.SenderID,
			&m.Nonce, &m.Ciphertext, &m.Tag, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
