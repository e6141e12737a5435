// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import (
	"time"

	"github.com/efchatnet/efmsg/backend/errs"
)

// Message is stored encrypted: only Nonce, Ciphertext and Tag are persisted
// for the body. Tokens are keyed digests of the normalized words.
type Message struct {
	MessageID  string    `json:"message_id" db:"message_id"`
	ChatID     string    `json:"chat_id" db:"chat_id"`
	SenderID   string    `json:"sender_id" db:"sender_id"`
	GroupID    string    `json:"group_id" db:"group_id"`
	Nonce      []byte    `json:"nonce" db:"nonce"`
	Ciphertext []byte    `json:"ciphertext" db:"ciphertext"`
	Tag        []byte    `json:"tag" db:"tag"`
	Tokens     [][]byte  `json:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

func NewMessage(messageID, chatID, senderID string, nonce, ciphertext, tag []byte, tokens [][]byte, at time.Time) (*Message, error) {
	switch {
	case messageID == "":
		return nil, errs.Validation("message_id is required")
	case chatID == "":
		return nil, errs.Validation("chat_id is required")
	case senderID == "":
		return nil, errs.Validation("sender_id is required")
	case len(nonce) == 0 || len(tag) == 0:
		return nil, errs.Validation("nonce and tag are required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	return &Message{
		MessageID:  messageID,
		ChatID:     chatID,
		SenderID:   senderID,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Tag:        tag,
		Tokens:     tokens,
		CreatedAt:  at.UTC(),
	}, nil
}

// HasTokens reports whether every query token appears in the message index.
func (m *Message) HasTokens(query [][]byte) bool {
	if len(query) == 0 {
		return false
	}
	for _, q := range query {
		found := false
		for _, t := range m.Tokens {
			if string(t) == string(q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DecryptedMessage is the plaintext view handed to chat members.
type DecryptedMessage struct {
	MessageID      string    `json:"message_id"`
	ChatID         string    `json:"chat_id"`
	GroupID        string    `json:"group_id"`
	SenderID       string    `json:"sender_id"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// PushNotification is handed to the push transport for offline recipients.
type PushNotification struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}
