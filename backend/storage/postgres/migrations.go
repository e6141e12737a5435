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

import "context"

var migrations = []string{
	// Users and their public identity keys. Private keys are never stored.
	`CREATE TABLE IF NOT EXISTS users (
		user_id VARCHAR(255) PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		public_key BYTEA NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS chats (
		chat_id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		created_by VARCHAR(255) NOT NULL,
		current_group_id VARCHAR(255),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	// One wrapped copy of the chat key per member; doubles as the member list.
	`CREATE TABLE IF NOT EXISTS chat_keys (
		chat_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		wrapped_key BYTEA NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (chat_id, user_id),
		FOREIGN KEY (chat_id) REFERENCES chats(chat_id) ON DELETE CASCADE
	)`,

	`CREATE INDEX IF NOT EXISTS idx_chat_keys_user
	ON chat_keys(user_id)`,

	`CREATE TABLE IF NOT EXISTS message_groups (
		group_id VARCHAR(255) PRIMARY KEY,
		chat_id VARCHAR(255) NOT NULL,
		message_ids TEXT[] NOT NULL DEFAULT '{}',
		previous_group_id VARCHAR(255) REFERENCES message_groups(group_id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats(chat_id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		message_id VARCHAR(255) PRIMARY KEY,
		chat_id VARCHAR(255) NOT NULL,
		group_id VARCHAR(255) NOT NULL REFERENCES message_groups(group_id),
		sender_id VARCHAR(255) NOT NULL,
		nonce BYTEA NOT NULL,
		ciphertext BYTEA NOT NULL,
		tag BYTEA NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (chat_id) REFERENCES chats(chat_id) ON DELETE CASCADE
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_group
	ON messages(group_id)`,

	// Keyed-hash search tokens. Equal words give equal tokens.
	`CREATE TABLE IF NOT EXISTS message_tokens (
		message_id VARCHAR(255) NOT NULL REFERENCES messages(message_id) ON DELETE CASCADE,
		chat_id VARCHAR(255) NOT NULL,
		token BYTEA NOT NULL,
		PRIMARY KEY (message_id, token)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_message_tokens_lookup
	ON message_tokens(chat_id, token)`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}
