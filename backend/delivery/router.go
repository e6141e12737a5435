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

// Package delivery fans events out to recipients: realtime on every open
// channel when the recipient is online, otherwise a push notification.
// Nothing is acknowledged or retried.
package delivery

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/metrics"
	"github.com/efchatnet/efmsg/backend/models"
)

type Emitter interface {
	Emit(ctx context.Context, channelID, event string, payload any) error
}

// Presence returns a user's open channels; none means offline.
type Presence interface {
	Channels(userID string) []string
}

type Pusher interface {
	Push(ctx context.Context, n models.PushNotification) error
}

// Report counts what one Route call attempted.
type Report struct {
	Emitted      int
	EmitFailures int
	Pushed       int
	PushFailures int
	// Dropped lists offline recipients for which no fallback was given.
	Dropped []string
}

type Router struct {
	emitter  Emitter
	presence Presence
	pusher   Pusher
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

func NewRouter(emitter Emitter, presence Presence, pusher Pusher, m *metrics.Metrics, log logrus.FieldLogger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		emitter:  emitter,
		presence: presence,
		pusher:   pusher,
		metrics:  m,
		log:      log.WithField("component", "delivery"),
	}
}

// Route delivers event to each distinct recipient over exactly one path.
// fallback, when non-nil, is the push sent to offline recipients; its
// UserID is overwritten per recipient.
func (r *Router) Route(ctx context.Context, recipients []string, event string, payload any, fallback *models.PushNotification) Report {
	var rep Report
	seen := make(map[string]struct{}, len(recipients))

	for _, userID := range recipients {
		if userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		if channels := r.presence.Channels(userID); len(channels) > 0 {
			r.emit(ctx, &rep, userID, channels, event, payload)
			continue
		}
		if fallback == nil || r.pusher == nil {
			rep.Dropped = append(rep.Dropped, userID)
			continue
		}
		r.push(ctx, &rep, userID, *fallback)
	}
	return rep
}

func (r *Router) emit(ctx context.Context, rep *Report, userID string, channels []string, event string, payload any) {
	for _, ch := range channels {
		if err := r.emitter.Emit(ctx, ch, event, payload); err != nil {
			rep.EmitFailures++
			r.log.WithFields(logrus.Fields{
				"user_id":    userID,
				"channel_id": ch,
				"event":      event,
			}).WithError(err).Warn("realtime emit failed")
			continue
		}
		rep.Emitted++
		r.metrics.RecordEmission()
	}
}

func (r *Router) push(ctx context.Context, rep *Report, userID string, n models.PushNotification) {
	n.UserID = userID
	if n.Data != nil {
		data := make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			data[k] = v
		}
		n.Data = data
	}
	err := r.pusher.Push(ctx, n)
	r.metrics.RecordPush(err)
	if err != nil {
		rep.PushFailures++
		r.log.WithField("user_id", userID).WithError(err).Error("push hand-off failed")
		return
	}
	rep.Pushed++
}
