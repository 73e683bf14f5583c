// Package metrics exposes Prometheus instrumentation for Fieldline Core.
//
// Counters are registered once via promauto on the default registry
// and served from /metrics by the API router.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesReceived counts raw messages delivered to ingestion
	// workers, labelled by connector transport.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldline",
		Subsystem: "ingest",
		Name:      "messages_received_total",
		Help:      "Raw messages received by ingestion workers.",
	}, []string{"transport"})

	// MessagesApplied counts messages that resolved to endpoints and
	// produced a state update.
	MessagesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldline",
		Subsystem: "ingest",
		Name:      "messages_applied_total",
		Help:      "Messages that produced a device state update.",
	}, []string{"transport"})

	// MessagesDropped counts messages discarded before a state update,
	// labelled by reason (unknown_address, decode_error, store_error).
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldline",
		Subsystem: "ingest",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped before a state update, by reason.",
	}, []string{"transport", "reason"})

	// BroadcastsSent counts device update events handed to the
	// websocket hub for room fan-out.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldline",
		Subsystem: "ws",
		Name:      "broadcasts_total",
		Help:      "Device update events broadcast to room subscribers.",
	})

	// ClientsDroppedFrames counts frames discarded because a websocket
	// client's send buffer was full.
	ClientsDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldline",
		Subsystem: "ws",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped due to slow websocket clients.",
	})

	// CommandsExecuted counts command requests by outcome (ok, rejected, failed).
	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldline",
		Subsystem: "command",
		Name:      "executed_total",
		Help:      "Command requests processed, by outcome.",
	}, []string{"outcome"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
