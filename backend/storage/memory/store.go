// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package memory is a map-backed storage.Store for tests and single-node
// development runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]models.User
	chats    map[string]models.Chat
	groups   map[string]models.MessageGroup
	messages map[string]models.Message

	// FlushCalls counts FlushGroup invocations, GroupReads counts
	// GetGroup and GetGroupMessages invocations.
	FlushCalls int
	GroupReads int
	// FailFlush makes FlushGroup return this error when set.
	FailFlush error
}

func New() *Store {
	return &Store{
		users:    make(map[string]models.User),
		chats:    make(map[string]models.Chat),
		groups:   make(map[string]models.MessageGroup),
		messages: make(map[string]models.Message),
	}
}

func (s *Store) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	u.PublicKey = append([]byte(nil), user.PublicKey...)
	s.users[user.UserID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, errs.NotFound("user", userID)
	}
	return &u, nil
}

func (s *Store) GetUsers(_ context.Context, userIDs []string) (map[string]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			u := u
			out[id] = &u
		}
	}
	return out, nil
}

func (s *Store) CreateChat(_ context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chats[chat.ChatID]; exists {
		return errs.Validation("chat %s already exists", chat.ChatID)
	}
	c := *chat
	c.Members = append([]string(nil), chat.Members...)
	c.Keys = append([]models.ChatKey(nil), chat.Keys...)
	s.chats[chat.ChatID] = c
	return nil
}

func (s *Store) GetChat(_ context.Context, chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, errs.NotFound("chat", chatID)
	}
	c.Members = append([]string(nil), c.Members...)
	c.Keys = append([]models.ChatKey(nil), c.Keys...)
	return &c, nil
}

func (s *Store) GetContacts(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, c := range s.chats {
		if !c.IsMember(userID) {
			continue
		}
		for _, m := range c.Peers(userID) {
			seen[m] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) FlushGroup(_ context.Context, group *models.MessageGroup, msgs []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FlushCalls++
	if s.FailFlush != nil {
		return s.FailFlush
	}
	c, ok := s.chats[group.ChatID]
	if !ok {
		return errs.NotFound("chat", group.ChatID)
	}
	for _, m := range msgs {
		s.messages[m.MessageID] = *m
	}
	g := *group
	g.MessageIDs = append([]string(nil), group.MessageIDs...)
	s.groups[group.GroupID] = g
	c.CurrentGroupID = group.GroupID
	s.chats[c.ChatID] = c
	return nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (*models.MessageGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GroupReads++
	g, ok := s.groups[groupID]
	if !ok {
		return nil, errs.NotFound("group", groupID)
	}
	g.MessageIDs = append([]string(nil), g.MessageIDs...)
	return &g, nil
}

func (s *Store) GetGroupMessages(_ context.Context, groupID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GroupReads++
	g, ok := s.groups[groupID]
	if !ok {
		return nil, errs.NotFound("group", groupID)
	}
	out := make([]*models.Message, 0, len(g.MessageIDs))
	for _, id := range g.MessageIDs {
		if m, ok := s.messages[id]; ok {
			m := m
			out = append(out, &m)
		}
	}
	return out, nil
}

func (s *Store) SearchMessages(_ context.Context, chatID string, tokens [][]byte, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Message
	for _, m := range s.messages {
		if m.ChatID == chatID && m.HasTokens(tokens) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Counters returns FlushCalls and GroupReads under the store lock.
func (s *Store) Counters() (flushes, reads int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FlushCalls, s.GroupReads
}

// SetFailFlush makes subsequent FlushGroup calls fail with err (nil clears).
func (s *Store) SetFailFlush(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailFlush = err
}

// GroupCount returns the number of durable groups for chatID.
func (s *Store) GroupCount(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, g := range s.groups {
		if g.ChatID == chatID {
			n++
		}
	}
	return n
}
