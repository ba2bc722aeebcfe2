// SPDX-FileCopyrightText: 2026 The SunNet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes Prometheus collectors for SunNet's traffic.
//
// All collectors are registered at the default registerer; serve them with
// promhttp.Handler.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sunnet"

var (
	// FramesSent counts framed messages written, by channel id.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "sent_total",
		Help:      "Number of framed messages sent.",
	}, []string{"channel"})

	// FramesReceived counts framed messages read, by channel id.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "received_total",
		Help:      "Number of framed messages received.",
	}, []string{"channel"})

	// FramesDropped counts received messages without any subscriber.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "dropped_total",
		Help:      "Number of received messages without a subscriber.",
	}, []string{"channel"})

	// ConnectionsAccepted counts connections accepted by servers.
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connections",
		Name:      "accepted_total",
		Help:      "Number of accepted connections.",
	})

	// ConnectionsLost counts peers gone by disconnect or error.
	ConnectionsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connections",
		Name:      "lost_total",
		Help:      "Number of peers lost, by reason.",
	}, []string{"reason"})

	// PollTimeouts counts polls without any ready connection.
	PollTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poll",
		Name:      "timeouts_total",
		Help:      "Number of polls without a ready connection.",
	})
)

// Channel label for a channel id.
func Channel(id uint8) string {
	return strconv.Itoa(int(id))
}
