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

// Package presence tracks which users have open realtime channels.
// A user is online while at least one of their channels is open.
package presence

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/efchatnet/efmsg/backend/metrics"
)

// Departure describes a closed channel.
type Departure struct {
	UserID       string
	IsNowOffline bool
}

// Registry keeps channel->user and user->channels in step; both maps
// change only under mu.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]string
	users    map[string]map[string]struct{}

	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func New(m *metrics.Metrics, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		channels: make(map[string]string),
		users:    make(map[string]map[string]struct{}),
		metrics:  m,
		log:      log.WithField("component", "presence"),
	}
}

// OpenSession registers channelID for userID and reports whether the user
// was offline before. Reopening a known channel moves it to userID.
func (r *Registry) OpenSession(userID, channelID string) (wasOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.channels[channelID]; ok {
		if prev == userID {
			return false
		}
		r.detach(prev, channelID)
	}

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	wasOffline = len(set) == 0
	set[channelID] = struct{}{}
	r.channels[channelID] = userID
	r.metrics.SetOnlineUsers(len(r.users))

	r.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"channel_id": channelID,
		"channels":   len(set),
	}).Info("session opened")
	return wasOffline
}

// CloseSession removes channelID. The second result is false when the
// channel was not registered.
func (r *Registry) CloseSession(channelID string) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.channels[channelID]
	if !ok {
		return Departure{}, false
	}
	offline := r.detach(userID, channelID)
	r.metrics.SetOnlineUsers(len(r.users))

	r.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"channel_id": channelID,
		"offline":    offline,
	}).Info("session closed")
	return Departure{UserID: userID, IsNowOffline: offline}, true
}

func (r *Registry) detach(userID, channelID string) (offline bool) {
	delete(r.channels, channelID)
	set := r.users[userID]
	delete(set, channelID)
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ListOnlineUsers returns the online user ids, sorted.
func (r *Registry) ListOnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Channels returns the user's open channel ids, sorted.
func (r *Registry) Channels(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
