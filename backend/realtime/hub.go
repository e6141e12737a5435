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

// Package realtime serves websocket channels. Every connection is one
// presence channel; the hub emits events on it and announces users going
// online and offline to their contacts.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/delivery"
	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/models"
	"github.com/efchatnet/efmsg/backend/presence"
)

const (
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"

	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	readLimit           = 4096
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrSlowClient     = errors.New("client send buffer full")
)

// Envelope is the frame written for every event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

type Presence interface {
	OpenSession(userID, channelID string) bool
	CloseSession(channelID string) (presence.Departure, bool)
}

type Contacts interface {
	GetContacts(ctx context.Context, userID string) ([]string, error)
}

type Router interface {
	Route(ctx context.Context, recipients []string, event string, payload any, fallback *models.PushNotification) delivery.Report
}

type Options struct {
	OriginPatterns []string
	SendBuffer     int
	WriteTimeout   time.Duration
	Logger         logrus.FieldLogger
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

type Hub struct {
	presence Presence
	contacts Contacts
	opts     Options
	log      logrus.FieldLogger

	mu      sync.RWMutex
	clients map[string]*client
	router  Router
}

func NewHub(p Presence, contacts Contacts, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Hub{
		presence: p,
		contacts: contacts,
		opts:     opts,
		log:      opts.Logger.WithField("component", "realtime"),
		clients:  make(map[string]*client),
	}
}

// SetRouter sets the router used for presence announcements. The router
// itself emits through the hub, so it is wired after construction.
func (h *Hub) SetRouter(r Router) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router = r
}

// Emit queues event on the channel without blocking.
func (h *Hub) Emit(_ context.Context, channelID, event string, payload any) error {
	h.mu.RLock()
	c, ok := h.clients[channelID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	}

	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	select {
	case <-c.done:
		return fmt.Errorf("channel %s: %w", channelID, ErrUnknownChannel)
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("channel %s: %w", channelID, ErrSlowClient)
	}
}

// ServeHTTP upgrades an authenticated request and holds the channel open
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.log.WithField("user_id", userID).WithError(err).Warn("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(readLimit)

	c := &client{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.register(ctx, c)
	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)

	cancel()
	h.unregister(c)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) register(ctx context.Context, c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	if h.presence.OpenSession(c.userID, c.id) {
		h.announce(ctx, c.userID, EventUserOnline)
	}
}

// unregister closes the presence session before dropping the client, so
// a route running meanwhile either finds a live channel or sees the user
// offline and falls back to push.
func (h *Hub) unregister(c *client) {
	dep, ok := h.presence.CloseSession(c.id)

	h.mu.Lock()
	if _, known := h.clients[c.id]; known {
		delete(h.clients, c.id)
		close(c.done)
	}
	h.mu.Unlock()

	if ok && dep.IsNowOffline {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
		defer cancel()
		h.announce(ctx, dep.UserID, EventUserOffline)
	}
}

// announce tells the user's online contacts about a presence change.
// There is no push fallback for presence.
func (h *Hub) announce(ctx context.Context, userID, event string) {
	h.mu.RLock()
	router := h.router
	h.mu.RUnlock()
	if router == nil {
		return
	}
	contacts, err := h.contacts.GetContacts(ctx, userID)
	if err != nil {
		h.log.WithField("user_id", userID).WithError(err).Warn("load contacts for presence failed")
		return
	}
	router.Route(ctx, contacts, event, PresenceEvent{UserID: userID}, nil)
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.WithFields(logrus.Fields{
					"user_id":    c.userID,
					"channel_id": c.id,
				}).WithError(err).Debug("websocket write failed")
				c.conn.CloseNow()
				return
			}
		}
	}
}

// readLoop answers pings and discards everything else; it returns when
// the connection is gone.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var in Envelope
		if json.Unmarshal(data, &in) == nil && in.Event == "ping" {
			_ = h.Emit(ctx, c.id, "pong", nil)
		}
	}
}

// Close drops every open channel without waiting for the close
// handshake; an unresponsive client cannot stall shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.CloseNow()
	}
}

// Connections returns the number of open channels.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
