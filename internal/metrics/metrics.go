// Package metrics declares every Prometheus collector the HTTP surface
// (C10) exports, and the handful the MPD command path and WebSocket
// session registration update directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hailsplay",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, normalized route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hailsplay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method and normalized route.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "route"})

	WebSocketSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hailsplay",
		Name:      "websocket_sessions_active",
		Help:      "Number of currently connected WebSocket session (C7) clients.",
	})

	StreamRangeRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hailsplay",
		Name:      "stream_range_request_duration_seconds",
		Help:      "Time to serve a /media stream request, including any blocking on in-flight download progress.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	QueueAddTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hailsplay",
		Name:      "queue_add_total",
		Help:      "Total POST /api/queue calls by outcome.",
	}, []string{"outcome"})

	MPDCommandErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hailsplay",
		Name:      "mpd_command_errors_total",
		Help:      "Total errors from the HTTP layer's single shared MPD command connection, each of which forces a redial on the next command.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		WebSocketSessionsActive,
		StreamRangeRequestDuration,
		QueueAddTotal,
		MPDCommandErrorsTotal,
	)
}
