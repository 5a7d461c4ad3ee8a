package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campuschat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Connection metrics
	ConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuschat_ws_connections_open",
			Help: "Open websocket connections, authenticated or not",
		},
	)

	ConnectionsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuschat_ws_connections_registered",
			Help: "Authenticated connections in the registry",
		},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_ws_auth_attempts_total",
			Help: "Handshake outcomes",
		},
		[]string{"result"}, // "ok", "invalid", "expired", "unknown_user", ...
	)

	LivenessEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campuschat_ws_liveness_evictions_total",
			Help: "Connections terminated after an unanswered ping",
		},
	)

	// Message metrics
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_ws_frames_received_total",
			Help: "Inbound frames by decoded kind",
		},
		[]string{"kind"},
	)

	FrameErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_ws_frame_errors_total",
			Help: "Error frames sent back to clients",
		},
		[]string{"reason"},
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_messages_stored_total",
			Help: "Messages persisted",
		},
		[]string{"kind"}, // "direct" or "room"
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuschat_deliveries_total",
			Help: "Outbound frames queued to live connections",
		},
		[]string{"result"}, // "sent" or "skipped"
	)
)
