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

// Package messaging ties the vault, codec, cache and router together
// into the send, history and search flows.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/codec"
	"github.com/efchatnet/efmsg/backend/delivery"
	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/msgcache"
)

const (
	MaxContentLength   = 4096
	DefaultSearchLimit = 50

	EventNewMessage = "newMessage"
)

type Store interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error)
	SearchMessages(ctx context.Context, chatID string, tokens [][]byte, limit int) ([]*models.Message, error)
}

type Cache interface {
	Append(ctx context.Context, chatID string, msg *models.Message) error
	ReadBackward(ctx context.Context, chatID, groupID string) (*msgcache.Page, error)
	Pending(chatID string) []*models.Message
}

// Keys opens a chat key wrapped to userID with their session key.
type Keys interface {
	UnwrapFor(userID string, wrapped []byte) ([]byte, error)
}

type Router interface {
	Route(ctx context.Context, recipients []string, event string, payload any, fallback *models.PushNotification) delivery.Report
}

// NewMessageEvent is broadcast to online chat members. Content is
// plaintext; only the stored record is encrypted.
type NewMessageEvent struct {
	ChatID   string       `json:"chatId"`
	ChatName string       `json:"chatName"`
	Message  EventMessage `json:"message"`
}

type EventMessage struct {
	MessageID      string    `json:"messageId"`
	Content        string    `json:"content"`
	SenderUsername string    `json:"senderUsername"`
	Timestamp      time.Time `json:"timestamp"`
}

// History is one decrypted page of a chat, newest group first.
type History struct {
	ChatID          string                    `json:"chat_id"`
	GroupID         string                    `json:"group_id"`
	PreviousGroupID string                    `json:"previous_group_id,omitempty"`
	Messages        []models.DecryptedMessage `json:"messages"`
}

type Service struct {
	store    Store
	cache    Cache
	keys     Keys
	router   Router
	indexKey []byte
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Store, cache Cache, keys Keys, router Router, indexKey []byte, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		cache:    cache,
		keys:     keys,
		router:   router,
		indexKey: append([]byte(nil), indexKey...),
		log:      log.WithField("component", "messaging"),
		now:      time.Now,
	}
}

// chatKey checks membership and unwraps the member's copy of the chat key.
func (s *Service) chatKey(ctx context.Context, userID, chatID string) (*models.Chat, []byte, error) {
	if userID == "" || chatID == "" {
		return nil, nil, errs.Validation("user id and chat id are required")
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if !chat.IsMember(userID) {
		return nil, nil, fmt.Errorf("user %s is not a member of chat %s: %w", userID, chatID, errs.ErrAuthorization)
	}
	wrapped, ok := chat.WrappedKeyFor(userID)
	if !ok {
		return nil, nil, fmt.Errorf("no key for %s in chat %s: %w", userID, chatID, errs.ErrAuthorization)
	}
	key, err := s.keys.UnwrapFor(userID, wrapped)
	if err != nil {
		return nil, nil, err
	}
	return chat, key, nil
}

// Send encrypts and indexes content, buffers it in the chat's current
// group and notifies the other members. The returned message has been
// accepted into the cache, not yet written to durable storage.
func (s *Service) Send(ctx context.Context, senderID, chatID, content string) (*models.Message, error) {
	if content == "" {
		return nil, errs.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, errs.Validation("content exceeds %d characters", MaxContentLength)
	}

	chat, key, err := s.chatKey(ctx, senderID, chatID)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	sealed, err := codec.Encode([]byte(content), key)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	msg, err := models.NewMessage(uuid.New().String(), chatID, senderID,
		sealed.Nonce, sealed.Ciphertext, sealed.Tag,
		codec.Index(content, s.indexKey), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.cache.Append(ctx, chatID, msg); err != nil {
		return nil, fmt.Errorf("buffer message: %w", err)
	}

	username := senderID
	if u, err := s.store.GetUser(ctx, senderID); err == nil && u.Username != "" {
		username = u.Username
	}
	event := NewMessageEvent{
		ChatID:   chatID,
		ChatName: chat.Name,
		Message: EventMessage{
			MessageID:      msg.MessageID,
			Content:        content,
			SenderUsername: username,
			Timestamp:      msg.CreatedAt,
		},
	}
	title := chat.Name
	if title == "" {
		title = "New message"
	}
	fallback := &models.PushNotification{
		Title: title,
		Body:  "New message from " + username,
		Data: map[string]string{
			"chatId":    chatID,
			"messageId": msg.MessageID,
		},
	}
	rep := s.router.Route(ctx, chat.Peers(senderID), EventNewMessage, event, fallback)

	s.log.WithFields(logrus.Fields{
		"chat_id":    chatID,
		"user_id":    senderID,
		"group_id":   msg.GroupID,
		"emitted":    rep.Emitted,
		"pushed":     rep.Pushed,
		"message_id": msg.MessageID,
	}).Debug("message accepted")
	accepted := *msg
	return &accepted, nil
}

// History decrypts one group of the chat for a member. An empty groupID
// returns the current group.
func (s *Service) History(ctx context.Context, userID, chatID, groupID string) (*History, error) {
	_, key, err := s.chatKey(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	page, err := s.cache.ReadBackward(ctx, chatID, groupID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.decrypt(ctx, page.Messages, key)
	if err != nil {
		return nil, err
	}
	return &History{
		ChatID:          chatID,
		GroupID:         page.GroupID,
		PreviousGroupID: page.PreviousGroupID,
		Messages:        msgs,
	}, nil
}

// Search returns messages, newest first, whose index contains every
// indexable word of query. Buffered messages are searched too.
func (s *Service) Search(ctx context.Context, userID, chatID, query string) ([]models.DecryptedMessage, error) {
	tokens := codec.Index(query, s.indexKey)
	if len(tokens) == 0 {
		return nil, errs.Validation("query has no searchable words")
	}
	_, key, err := s.chatKey(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	found, err := s.store.SearchMessages(ctx, chatID, tokens, DefaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search chat %s: %w", chatID, err)
	}
	seen := make(map[string]struct{}, len(found))
	for _, m := range found {
		seen[m.MessageID] = struct{}{}
	}
	// A flush between the two reads can put a message in both.
	for _, m := range s.cache.Pending(chatID) {
		if _, dup := seen[m.MessageID]; dup || !m.HasTokens(tokens) {
			continue
		}
		found = append(found, m)
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	if len(found) > DefaultSearchLimit {
		found = found[:DefaultSearchLimit]
	}
	return s.decrypt(ctx, found, key)
}

func (s *Service) decrypt(ctx context.Context, msgs []*models.Message, key []byte) ([]models.DecryptedMessage, error) {
	senders := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senders = append(senders, m.SenderID)
	}
	users, err := s.store.GetUsers(ctx, senders)
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}

	out := make([]models.DecryptedMessage, 0, len(msgs))
	for _, m := range msgs {
		plain, err := codec.Decode(codec.Sealed{Nonce: m.Nonce, Ciphertext: m.Ciphertext, Tag: m.Tag}, key)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"chat_id":    m.ChatID,
				"message_id": m.MessageID,
			}).WithError(err).Error("message failed authentication")
			return nil, fmt.Errorf("message %s: %w", m.MessageID, err)
		}
		dm := models.DecryptedMessage{
			MessageID: m.MessageID,
			ChatID:    m.ChatID,
			GroupID:   m.GroupID,
			SenderID:  m.SenderID,
			Content:   string(plain),
			Timestamp: m.CreatedAt,
		}
		if u, ok := users[m.SenderID]; ok {
			dm.SenderUsername = u.Username
		}
		out = append(out, dm)
	}
	return out, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
