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

// Package msgcache is a per-chat write-behind buffer in front of durable
// message storage.
//
// Appended messages are acknowledged as soon as they are buffered. The
// buffer is written out when the chat's debounce timer fires, when the
// current group reaches capacity, or on Close. A crash before that loses
// the buffered messages; callers must present a send as "accepted", not
// "stored".
//
// Messages are batched into groups of at most Capacity. Each group links
// to the group before it, so history is paged newest to oldest by
// following PreviousGroupID until it is empty.
package msgcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/metrics"
	"github.com/efchatnet/efmsg/backend/models"
)

const (
	DefaultCapacity   = 50
	DefaultFlushDelay = 2 * time.Second
)

var ErrClosed = errors.New("message cache closed")

type Store interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	FlushGroup(ctx context.Context, group *models.MessageGroup, msgs []*models.Message) error
	GetGroup(ctx context.Context, groupID string) (*models.MessageGroup, error)
	GetGroupMessages(ctx context.Context, groupID string) ([]*models.Message, error)
}

type Options struct {
	// Capacity is the maximum number of messages in one group.
	Capacity int
	// FlushDelay is the debounce window; every append restarts it.
	FlushDelay time.Duration
	// MaxAge caps how long the oldest pending message may wait while
	// appends keep restarting the debounce. Zero disables the cap.
	MaxAge  time.Duration
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

// Page is one group's worth of history.
type Page struct {
	GroupID         string            `json:"group_id"`
	ChatID          string            `json:"chat_id"`
	Messages        []*models.Message `json:"messages"`
	PreviousGroupID string            `json:"previous_group_id,omitempty"`
	// Cached is set when the page was built from memory.
	Cached bool `json:"cached"`
}

type group struct {
	id        string
	chatID    string
	prev      string
	createdAt time.Time
	messages  []*models.Message
	durable   int // messages[:durable] are persisted
}

func (g *group) pending() []*models.Message {
	return g.messages[g.durable:]
}

func (g *group) record() *models.MessageGroup {
	ids := make([]string, len(g.messages))
	for i, m := range g.messages {
		ids[i] = m.MessageID
	}
	return &models.MessageGroup{
		GroupID:         g.id,
		ChatID:          g.chatID,
		MessageIDs:      ids,
		PreviousGroupID: g.prev,
		CreatedAt:       g.createdAt,
	}
}

// chatState is owned by its mutex: every operation on one chat's buffer
// runs under it, which gives per-chat total ordering while different
// chats proceed in parallel.
type chatState struct {
	mu      sync.Mutex
	loaded  bool
	current *group
	timer   *time.Timer
	gen     uint64
	oldest  time.Time
}

type Cache struct {
	store Store
	opts  Options
	log   logrus.FieldLogger

	mu     sync.Mutex
	chats  map[string]*chatState
	closed bool
}

func New(store Store, opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Cache{
		store: store,
		opts:  opts,
		log:   opts.Logger.WithField("component", "msgcache"),
		chats: make(map[string]*chatState),
	}
}

func (c *Cache) state(chatID string, create bool) (*chatState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	st, ok := c.chats[chatID]
	if !ok && create {
		st = &chatState{}
		c.chats[chatID] = st
	}
	return st, nil
}

// Append buffers msg in the chat's current group and restarts the flush
// timer. If the current group is full it is flushed synchronously and a
// new group linked to it becomes current. msg.GroupID is set on return.
func (c *Cache) Append(ctx context.Context, chatID string, msg *models.Message) error {
	if chatID == "" || msg == nil {
		return errs.Validation("chat id and message are required")
	}
	st, err := c.state(chatID, true)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := c.resolve(ctx, chatID, st); err != nil {
		return err
	}
	if len(st.current.messages) >= c.opts.Capacity {
		if err := c.rollover(ctx, st); err != nil {
			return err
		}
	}
	if st.current == nil {
		return fmt.Errorf("chat %s: %w", chatID, errs.ErrNoActiveGroup)
	}

	msg.GroupID = st.current.id
	st.current.messages = append(st.current.messages, msg)
	if len(st.current.pending()) == 1 {
		st.oldest = c.opts.Now()
	}
	c.arm(chatID, st)
	c.opts.Metrics.RecordAppend()

	c.log.WithFields(logrus.Fields{
		"chat_id":  chatID,
		"group_id": st.current.id,
		"length":   len(st.current.messages),
	}).Debug("message buffered")
	return nil
}

// resolve loads the chat's current group on first touch: the durable
// group the chat points at, or a fresh empty group if it has none.
func (c *Cache) resolve(ctx context.Context, chatID string, st *chatState) error {
	if st.loaded {
		return nil
	}
	chat, err := c.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.CurrentGroupID == "" {
		st.current = c.newGroup(chatID, "")
		st.loaded = true
		return nil
	}

	rec, err := c.store.GetGroup(ctx, chat.CurrentGroupID)
	if err != nil {
		return fmt.Errorf("load current group of %s: %w", chatID, err)
	}
	msgs, err := c.store.GetGroupMessages(ctx, rec.GroupID)
	if err != nil {
		return fmt.Errorf("load current group of %s: %w", chatID, err)
	}
	st.current = &group{
		id:        rec.GroupID,
		chatID:    chatID,
		prev:      rec.PreviousGroupID,
		createdAt: rec.CreatedAt,
		messages:  msgs,
		durable:   len(msgs),
	}
	st.loaded = true
	return nil
}

// rollover seals the full current group. The outgoing group is flushed
// before the new one links to it, so a group is complete by the time
// anything can page back into it.
func (c *Cache) rollover(ctx context.Context, st *chatState) error {
	old := st.current
	if err := c.flushLocked(ctx, st); err != nil {
		return fmt.Errorf("seal group %s: %w", old.id, err)
	}
	st.current = c.newGroup(old.chatID, old.id)
	c.opts.Metrics.RecordRollover()

	c.log.WithFields(logrus.Fields{
		"chat_id":       old.chatID,
		"sealed_group":  old.id,
		"current_group": st.current.id,
		"sealed_length": len(old.messages),
	}).Info("message group rolled over")
	return nil
}

func (c *Cache) newGroup(chatID, prev string) *group {
	return &group{
		id:        uuid.New().String(),
		chatID:    chatID,
		prev:      prev,
		createdAt: c.opts.Now().UTC(),
	}
}

// arm replaces any pending flush timer for the chat with a new one.
func (c *Cache) arm(chatID string, st *chatState) {
	delay := c.opts.FlushDelay
	if c.opts.MaxAge > 0 {
		remaining := c.opts.MaxAge - c.opts.Now().Sub(st.oldest)
		if remaining < delay {
			delay = remaining
		}
		if delay < 0 {
			delay = 0
		}
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(delay, func() { c.fire(chatID, gen) })
}

func (c *Cache) disarm(st *chatState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
}

func (c *Cache) fire(chatID string, gen uint64) {
	st, err := c.state(chatID, false)
	if err != nil || st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	// A later append re-armed the timer after this one fired.
	if st.gen != gen {
		return
	}
	st.timer = nil
	if err := c.flushLocked(context.Background(), st); err != nil {
		c.log.WithField("chat_id", chatID).WithError(err).Error("scheduled flush failed, buffer kept")
	}
}

// Flush persists the chat's buffered messages now. Flushing a chat with
// nothing buffered does nothing.
func (c *Cache) Flush(ctx context.Context, chatID string) error {
	st, err := c.state(chatID, false)
	if err != nil || st == nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	c.disarm(st)
	return c.flushLocked(ctx, st)
}

// flushLocked writes the current group's pending messages and its full
// reference list. On failure the buffer is left untouched.
func (c *Cache) flushLocked(ctx context.Context, st *chatState) error {
	g := st.current
	if g == nil {
		return nil
	}
	pending := g.pending()
	if len(pending) == 0 {
		return nil
	}
	if err := c.store.FlushGroup(ctx, g.record(), pending); err != nil {
		c.opts.Metrics.RecordFlushFailure()
		return fmt.Errorf("flush group %s: %w", g.id, err)
	}
	g.durable = len(g.messages)
	c.opts.Metrics.RecordFlush(len(pending))

	c.log.WithFields(logrus.Fields{
		"chat_id":  g.chatID,
		"group_id": g.id,
		"flushed":  len(pending),
		"length":   len(g.messages),
	}).Debug("message group flushed")
	return nil
}

// ReadBackward returns one group's messages and the id of the group
// before it. An empty groupID means the chat's current group. The
// current group is served from memory without a storage read.
func (c *Cache) ReadBackward(ctx context.Context, chatID, groupID string) (*Page, error) {
	if chatID == "" {
		return nil, errs.Validation("chat id is required")
	}
	st, err := c.state(chatID, groupID == "")
	if err != nil {
		return nil, err
	}
	if st != nil {
		st.mu.Lock()
		if groupID == "" {
			if err := c.resolve(ctx, chatID, st); err != nil {
				st.mu.Unlock()
				return nil, err
			}
			groupID = st.current.id
		}
		if st.current != nil && st.current.id == groupID {
			page := &Page{
				GroupID:         groupID,
				ChatID:          chatID,
				Messages:        append([]*models.Message(nil), st.current.messages...),
				PreviousGroupID: st.current.prev,
				Cached:          true,
			}
			st.mu.Unlock()
			return page, nil
		}
		st.mu.Unlock()
	}

	rec, err := c.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if rec.ChatID != chatID {
		return nil, errs.NotFound("group", groupID)
	}
	msgs, err := c.store.GetGroupMessages(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &Page{
		GroupID:         rec.GroupID,
		ChatID:          chatID,
		Messages:        msgs,
		PreviousGroupID: rec.PreviousGroupID,
	}, nil
}

// Pending returns the chat's buffered, not yet durable messages.
func (c *Cache) Pending(chatID string) []*models.Message {
	st, err := c.state(chatID, false)
	if err != nil || st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		return nil
	}
	return append([]*models.Message(nil), st.current.pending()...)
}

// Close stops all timers and flushes every chat. Appends after Close
// fail with ErrClosed.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	states := make(map[string]*chatState, len(c.chats))
	for id, st := range c.chats {
		states[id] = st
	}
	c.mu.Unlock()

	var errList []error
	for id, st := range states {
		st.mu.Lock()
		c.disarm(st)
		if err := c.flushLocked(ctx, st); err != nil {
			errList = append(errList, fmt.Errorf("chat %s: %w", id, err))
		}
		st.mu.Unlock()
	}
	return errors.Join(errList...)
}
