// Package metrics exposes Prometheus collectors for the watch-party server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "watchparty"

var (
	// ActiveConnections tracks currently registered websocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of active websocket connections.",
	})

	// EventsTotal counts inbound client events by event name.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Inbound websocket events by event name.",
	}, []string{"event"})

	// ChatMessagesTotal counts relayed chat messages.
	ChatMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_messages_total",
		Help:      "Chat messages relayed to participants.",
	})

	// SyncCallFailures counts failed host reconciliation calls (timeouts,
	// disconnects, malformed replies).
	SyncCallFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_call_failures_total",
		Help:      "Failed get_host_time reconciliation calls.",
	})
)
