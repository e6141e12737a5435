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

// Package integration assembles the message store into a runtime that
// can be mounted on an existing efchat router or served standalone.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/codec"
	"github.com/efchatnet/efmsg/backend/delivery"
	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/handlers"
	"github.com/efchatnet/efmsg/backend/keydist"
	"github.com/efchatnet/efmsg/backend/messaging"
	"github.com/efchatnet/efmsg/backend/metrics"
	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/msgcache"
	"github.com/efchatnet/efmsg/backend/presence"
	"github.com/efchatnet/efmsg/backend/realtime"
	"github.com/efchatnet/efmsg/backend/storage"
	"github.com/efchatnet/efmsg/backend/vault"
)

// FlushTimeout bounds the final flush in Close.
const FlushTimeout = 10 * time.Second

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Store storage.Store
	// Pusher receives notifications for offline recipients. Nil drops them.
	Pusher delivery.Pusher

	IndexKey       []byte
	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins []string

	GroupCapacity int
	FlushDelay    time.Duration
	FlushMaxAge   time.Duration

	Metrics      *metrics.Metrics
	Logger       logrus.FieldLogger
	HealthChecks map[string]HealthCheck
}

// Runtime owns the process-local state: the vault, the per-chat message
// buffers and the presence registry. Nothing here is a package global.
type Runtime struct {
	Vault    *vault.Vault
	Cache    *msgcache.Cache
	Presence *presence.Registry
	Hub      *realtime.Hub
	Router   *delivery.Router
	Messages *messaging.Service

	keyHandler      *handlers.KeyHandler
	chatHandler     *handlers.ChatHandler
	messageHandler  *handlers.MessageHandler
	presenceHandler *handlers.PresenceHandler

	jwtSecret string
	jwtIssuer string
	health    map[string]HealthCheck
	log       logrus.FieldLogger
}

func New(cfg Config) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, errs.Validation("store is required")
	}
	if len(cfg.IndexKey) < codec.KeySize {
		return nil, errs.Validation("index key must be at least %d bytes", codec.KeySize)
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	rt := &Runtime{
		Vault:     vault.New(log),
		Presence:  presence.New(cfg.Metrics, log),
		jwtSecret: cfg.JWTSecret,
		jwtIssuer: cfg.JWTIssuer,
		health:    cfg.HealthChecks,
		log:       log.WithField("component", "runtime"),
	}
	rt.Cache = msgcache.New(cfg.Store, msgcache.Options{
		Capacity:   cfg.GroupCapacity,
		FlushDelay: cfg.FlushDelay,
		MaxAge:     cfg.FlushMaxAge,
		Metrics:    cfg.Metrics,
		Logger:     log,
	})
	rt.Hub = realtime.NewHub(rt.Presence, cfg.Store, realtime.Options{
		OriginPatterns: originPatterns(cfg.AllowedOrigins),
		Logger:         log,
	})
	rt.Router = delivery.NewRouter(rt.Hub, rt.Presence, cfg.Pusher, cfg.Metrics, log)
	rt.Hub.SetRouter(rt.Router)
	rt.Messages = messaging.NewService(cfg.Store, rt.Cache, rt.Vault, rt.Router, cfg.IndexKey, log)

	rt.keyHandler = handlers.NewKeyHandler(cfg.Store, rt.Vault, log)
	rt.chatHandler = handlers.NewChatHandler(keydist.New(cfg.Store, log), cfg.Store, log)
	rt.messageHandler = handlers.NewMessageHandler(rt.Messages, log)
	rt.presenceHandler = handlers.NewPresenceHandler(rt.Presence, cfg.Store, log)
	return rt, nil
}

// RegisterRoutes mounts the API under /api/e2e and the websocket at /ws.
// If authMiddleware is nil the built-in JWT validation is used; a host
// supplying its own must put the user id on the request context with
// middleware.WithUserID.
func (rt *Runtime) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	if authMiddleware == nil {
		authMiddleware = middleware.NewAuthMiddleware(rt.jwtSecret, rt.jwtIssuer, rt.log)
	}

	api := router.PathPrefix("/api/e2e").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/keys", rt.keyHandler.RegisterKeys).Methods("POST", "OPTIONS")
	api.HandleFunc("/keys/status", rt.keyHandler.GetKeyStatus).Methods("GET", "OPTIONS")
	api.HandleFunc("/keys/session", rt.keyHandler.UnlockSession).Methods("POST", "OPTIONS")
	api.HandleFunc("/keys/session", rt.keyHandler.LockSession).Methods("DELETE")
	api.HandleFunc("/keys/{userId}", rt.keyHandler.GetPublicKey).Methods("GET", "OPTIONS")

	api.HandleFunc("/chats", rt.chatHandler.CreateChat).Methods("POST", "OPTIONS")
	api.HandleFunc("/chats/{chatId}", rt.chatHandler.GetChat).Methods("GET", "OPTIONS")
	api.HandleFunc("/chats/{chatId}/messages", rt.messageHandler.SendMessage).Methods("POST", "OPTIONS")
	api.HandleFunc("/chats/{chatId}/messages", rt.messageHandler.GetMessages).Methods("GET")
	api.HandleFunc("/chats/{chatId}/search", rt.messageHandler.SearchMessages).Methods("GET", "OPTIONS")

	api.HandleFunc("/presence", rt.presenceHandler.ListOnline).Methods("GET", "OPTIONS")
	api.HandleFunc("/presence/{userId}", rt.presenceHandler.GetPresence).Methods("GET", "OPTIONS")

	router.Handle("/ws", authMiddleware(rt.Hub)).Methods("GET")
}

// Health pings every configured dependency.
func (rt *Runtime) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for name, check := range rt.health {
		if err := check(ctx); err != nil {
			rt.log.WithField("dependency", name).WithError(err).Warn("health check failed")
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy":      healthy,
		"dependencies": status,
	})
}

// Close flushes every buffered message, then drops websocket channels.
// The flush gets its own deadline so an expired shutdown context does
// not discard the buffers.
func (rt *Runtime) Close(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FlushTimeout)
	defer cancel()
	err := rt.Cache.Close(flushCtx)
	rt.Hub.Close()
	if err != nil && !errors.Is(err, msgcache.ErrClosed) {
		return fmt.Errorf("flush message buffers: %w", err)
	}
	return nil
}

// originPatterns turns allowed origins into the host patterns the
// websocket handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, o)
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
