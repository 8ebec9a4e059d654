package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawboard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawboard_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drawboard_connections_active",
			Help: "Open WebSocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawboard_connections_rejected_total",
			Help: "WebSocket connections refused",
		},
		[]string{"reason"}, // "capacity", "rate_limit", "shutdown"
	)

	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawboard_messages_dropped_total",
			Help: "Outbound messages dropped because a client's send buffer was full",
		},
	)

	IdleReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawboard_idle_connections_reaped_total",
			Help: "Connections closed by the idle reaper",
		},
	)

	// Relay metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawboard_events_received_total",
			Help: "Inbound client events by type",
		},
		[]string{"type"},
	)

	CanvasClears = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawboard_canvas_clears_total",
			Help: "Clear-canvas operations",
		},
	)

	RoomsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drawboard_rooms_evicted_total",
			Help: "Empty rooms whose stroke log was dropped after the grace period",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawboard_store_errors_total",
			Help: "Stroke store operation failures",
		},
		[]string{"op"},
	)
)
