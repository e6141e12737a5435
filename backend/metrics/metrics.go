// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is safe to use through a nil pointer; every recorder is a no-op then.
type Metrics struct {
	appends         prometheus.Counter
	rollovers       prometheus.Counter
	flushes         prometheus.Counter
	flushedMessages prometheus.Counter
	flushFailures   prometheus.Counter
	pendingMessages prometheus.Gauge
	emissions       prometheus.Counter
	pushes          prometheus.Counter
	pushFailures    prometheus.Counter
	onlineUsers     prometheus.Gauge
	pushQueueDepth  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		appends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_cache_appends_total",
			Help: "Messages accepted into the write-behind cache.",
		}),
		rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_cache_rollovers_total",
			Help: "Message groups sealed because they reached capacity.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_cache_flushes_total",
			Help: "Non-empty buffer flushes to durable storage.",
		}),
		flushedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_cache_flushed_messages_total",
			Help: "Messages written to durable storage by flushes.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_cache_flush_failures_total",
			Help: "Flushes that failed and left their buffer pending.",
		}),
		pendingMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "efmsg_cache_pending_messages",
			Help: "Messages accepted but not yet durable.",
		}),
		emissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_delivery_realtime_emissions_total",
			Help: "Events emitted on open realtime channels.",
		}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_delivery_push_handoffs_total",
			Help: "Notifications handed to the push transport.",
		}),
		pushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "efmsg_delivery_push_failures_total",
			Help: "Push hand-offs that failed (not retried).",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "efmsg_presence_online_users",
			Help: "Users with at least one open realtime channel.",
		}),
		pushQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "efmsg_delivery_push_queue_depth",
			Help: "Hand-offs waiting in the push outbox.",
		}),
	}

	reg.MustRegister(
		m.appends,
		m.rollovers,
		m.flushes,
		m.flushedMessages,
		m.flushFailures,
		m.pendingMessages,
		m.emissions,
		m.pushes,
		m.pushFailures,
		m.onlineUsers,
		m.pushQueueDepth,
	)
	return m
}

func (m *Metrics) RecordAppend() {
	if m == nil {
		return
	}
	m.appends.Inc()
	m.pendingMessages.Inc()
}

func (m *Metrics) RecordRollover() {
	if m == nil {
		return
	}
	m.rollovers.Inc()
}

func (m *Metrics) RecordFlush(n int) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushedMessages.Add(float64(n))
	m.pendingMessages.Sub(float64(n))
}

func (m *Metrics) RecordFlushFailure() {
	if m == nil {
		return
	}
	m.flushFailures.Inc()
}

func (m *Metrics) RecordEmission() {
	if m == nil {
		return
	}
	m.emissions.Inc()
}

func (m *Metrics) RecordPush(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pushFailures.Inc()
		return
	}
	m.pushes.Inc()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) SetPushQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.pushQueueDepth.Set(float64(n))
}
