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

// MessageGroup is a capacity-bounded batch of one chat's messages.
// Groups form a singly linked chain from newest to oldest through
// PreviousGroupID; the oldest group has an empty PreviousGroupID.
type MessageGroup struct {
	GroupID         string    `json:"group_id" db:"group_id"`
	ChatID          string    `json:"chat_id" db:"chat_id"`
	MessageIDs      []string  `json:"message_ids"`
	PreviousGroupID string    `json:"previous_group_id,omitempty" db:"previous_group_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

func NewMessageGroup(groupID, chatID, previousGroupID string) (*MessageGroup, error) {
	if groupID == "" {
		return nil, errs.Validation("group_id is required")
	}
	if chatID == "" {
		return nil, errs.Validation("chat_id is required")
	}
	return &MessageGroup{
		GroupID:         groupID,
		ChatID:          chatID,
		PreviousGroupID: previousGroupID,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// Length is the number of message references in the group.
func (g *MessageGroup) Length() int {
	return len(g.MessageIDs)
}
