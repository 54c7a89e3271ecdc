package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoomsActive tracks live rooms in the registry
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncmate",
		Name:      "rooms_active",
		Help:      "Rooms currently held by the relay.",
	})

	// ConnectionsActive tracks open websocket connections
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncmate",
		Name:      "connections_active",
		Help:      "Open websocket connections.",
	})

	// EventsRelayed counts frames fanned out, by event name
	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncmate",
		Name:      "events_relayed_total",
		Help:      "Frames relayed to room members, by event.",
	}, []string{"event"})

	// FramesDropped counts frames skipped because a recipient queue was full
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncmate",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped on a full send queue.",
	})

	// HandlerFaults counts inbound frames dropped after a handler failure
	HandlerFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncmate",
		Name:      "handler_faults_total",
		Help:      "Inbound frames dropped because their handler failed.",
	}, []string{"event"})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
