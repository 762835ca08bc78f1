// Package metrics exposes Prometheus instrumentation for the
// collaboration server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedClients tracks currently connected clients
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conclave_connected_clients",
			Help: "Number of currently connected clients",
		},
	)

	// ActiveSessions tracks live collaboration sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conclave_active_sessions",
			Help: "Number of active collaboration sessions",
		},
	)

	// MessagesTotal counts inbound messages by type and outcome
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_messages_total",
			Help: "Total number of inbound messages processed",
		},
		[]string{"type", "status"},
	)

	// MessageDuration tracks handler latency by message type
	MessageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conclave_message_duration_seconds",
			Help:    "Message handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// NotificationsDropped counts notifications lost to full client queues
	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_notifications_dropped_total",
			Help: "Total number of notifications dropped due to full outbound queues",
		},
		[]string{"event"},
	)

	// SharedResources tracks live shared resources by kind
	SharedResources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conclave_shared_resources",
			Help: "Number of live shared resources",
		},
		[]string{"kind"},
	)

	// TerminalBufferDrops counts terminal buffer entries evicted by overflow
	TerminalBufferDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_terminal_buffer_drops_total",
			Help: "Total number of terminal buffer entries evicted by overflow",
		},
		[]string{"terminal_id"},
	)

	// ErrorsTotal counts protocol errors returned to clients
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_errors_total",
			Help: "Total number of protocol errors returned to clients",
		},
		[]string{"code", "category"},
	)

	// PendingRequests tracks in-flight server-originated requests
	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conclave_pending_requests",
			Help: "Number of in-flight server-originated requests",
		},
	)

	// SessionDuration tracks how long sessions live
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conclave_session_duration_seconds",
			Help:    "Session duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 1800, 3600, 14400, 86400},
		},
	)

	// ToolCalls tracks opaque tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conclave_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPRequestsTotal counts admin HTTP requests
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "conclave_http_requests_total",
		Help: "Total number of admin HTTP requests",
	},
	[]string{"method", "path", "status"},
)

// Middleware creates an HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		_ = time.Since(start)
		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// ObserveMessage records the outcome and latency of one handled message.
func ObserveMessage(msgType, status string, elapsed time.Duration) {
	MessagesTotal.WithLabelValues(msgType, status).Inc()
	MessageDuration.WithLabelValues(msgType).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
