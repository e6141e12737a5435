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

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/efchatnet/efmsg/backend/config"
	"github.com/efchatnet/efmsg/backend/integration"
	"github.com/efchatnet/efmsg/backend/logging"
	"github.com/efchatnet/efmsg/backend/metrics"
	"github.com/efchatnet/efmsg/backend/middleware"
	"github.com/efchatnet/efmsg/backend/storage/postgres"
	redisstore "github.com/efchatnet/efmsg/backend/storage/redis"
)

const (
	shutdownTimeout     = 15 * time.Second
	outboxSweepInterval = 30 * time.Second
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional config file (yaml, json or toml)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	indexKey, err := cfg.IndexKey()
	if err != nil {
		log.WithError(err).Fatal("Invalid index key")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("Invalid redis address")
	}
	defer rdb.Close()

	store := postgres.NewStore(db)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	outbox := redisstore.NewPushOutbox(rdb, cfg.PushQueue)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	rt, err := integration.New(integration.Config{
		Store:          store,
		Pusher:         outbox,
		IndexKey:       indexKey,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		AllowedOrigins: cfg.AllowedOrigins,
		GroupCapacity:  cfg.GroupCapacity,
		FlushDelay:     cfg.FlushDelay,
		FlushMaxAge:    cfg.FlushMaxAge,
		Metrics:        m,
		Logger:         log,
		HealthChecks: map[string]integration.HealthCheck{
			"postgres": store.Ping,
			"redis":    outbox.Ping,
		},
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to build runtime")
	}

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	rt.RegisterRoutes(r, nil)
	r.HandleFunc("/health", rt.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go outbox.Maintain(ctx, outboxSweepInterval, m.SetPushQueueDepth, log)

	go func() {
		log.WithFields(logrus.Fields{
			"port":           cfg.Port,
			"jwt_issuer":     cfg.JWTIssuer,
			"group_capacity": cfg.GroupCapacity,
			"flush_delay":    cfg.FlushDelay.String(),
		}).Info("message server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := rt.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("Buffered messages lost on shutdown")
	}
}

// newRedisClient accepts a redis:// URL or a bare host:port.
func newRedisClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}
