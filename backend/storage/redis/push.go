// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/errs"
	"github.com/efchatnet/efmsg/backend/models"
)

const (
	// PushTTL is how long one hand-off stays deliverable. The queue key
	// carries the same TTL, refreshed on every push, so an abandoned
	// queue disappears a day after its last write.
	PushTTL = 24 * time.Hour

	DefaultPushQueue = "push:queue"
	pushNotifyPrefix = "push:notify:" // push:notify:{userId} - wake-up channel for push workers
)

// PushOutbox hands notifications for offline users to the external push
// worker through a Redis list. Delivery past this point is best-effort.
type PushOutbox struct {
	rdb   *redis.Client
	queue string
}

type queuedPush struct {
	ID        string                  `json:"id"`
	QueuedAt  time.Time               `json:"queued_at"`
	ExpiresAt time.Time               `json:"expires_at"`
	Payload   models.PushNotification `json:"payload"`
}

func NewPushOutbox(rdb *redis.Client, queue string) *PushOutbox {
	if queue == "" {
		queue = DefaultPushQueue
	}
	return &PushOutbox{rdb: rdb, queue: queue}
}

// Push appends n to the outbox queue and wakes any subscribed worker.
func (o *PushOutbox) Push(ctx context.Context, n models.PushNotification) error {
	if n.UserID == "" {
		return errs.Validation("push recipient is required")
	}
	queuedAt := time.Now().UTC()
	data, err := json.Marshal(queuedPush{
		ID:        uuid.New().String(),
		QueuedAt:  queuedAt,
		ExpiresAt: queuedAt.Add(PushTTL),
		Payload:   n,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push: %w", err)
	}

	pipe := o.rdb.TxPipeline()
	pipe.RPush(ctx, o.queue, data)
	pipe.Expire(ctx, o.queue, PushTTL)
	pipe.Publish(ctx, pushNotifyPrefix+n.UserID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to queue push for %s: %w", n.UserID, err)
	}
	return nil
}

// Prune drops expired hand-offs from the head of the queue and returns
// how many it removed. Entries are appended in queue order, so it stops
// at the first live one.
func (o *PushOutbox) Prune(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for {
		head, err := o.rdb.LIndex(ctx, o.queue, 0).Result()
		if errors.Is(err, redis.Nil) {
			return removed, nil
		}
		if err != nil {
			return removed, fmt.Errorf("failed to read push queue: %w", err)
		}
		if !expired(head, now) {
			return removed, nil
		}
		// LRem by value: a worker may have popped the entry meanwhile.
		if err := o.rdb.LRem(ctx, o.queue, 1, head).Err(); err != nil {
			return removed, fmt.Errorf("failed to drop expired push: %w", err)
		}
		removed++
	}
}

// expired reports whether a queued entry is past its deadline. Entries
// that cannot be decoded count as expired.
func expired(raw string, now time.Time) bool {
	var q queuedPush
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return true
	}
	return !now.Before(q.ExpiresAt)
}

// Maintain prunes expired hand-offs and reports the queue depth every
// interval until ctx is done.
func (o *PushOutbox) Maintain(ctx context.Context, interval time.Duration, depth func(int64), log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := o.Prune(ctx, time.Now()); err != nil {
			log.WithError(err).Warn("push outbox prune failed")
		} else if n > 0 {
			log.WithField("removed", n).Info("expired push hand-offs dropped")
		}
		if n, err := o.Len(ctx); err == nil {
			depth(n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Len reports the outbox depth.
func (o *PushOutbox) Len(ctx context.Context) (int64, error) {
	return o.rdb.LLen(ctx, o.queue).Result()
}

func (o *PushOutbox) Ping(ctx context.Context) error {
	return o.rdb.Ping(ctx).Err()
}
