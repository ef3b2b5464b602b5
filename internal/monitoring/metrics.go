package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the chat server.
var (
	// Connection metrics
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_connections_total",
		Help: "Total number of TCP connections accepted",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Current number of active sessions",
	})

	connectionsRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_connections_rate_limited_total",
		Help: "Connections rejected by the accept-time rate limiter",
	}, []string{"scope"})

	// Command metrics
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_commands_total",
		Help: "Commands dispatched by verb",
	}, []string{"verb"})

	handlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_handler_errors_total",
		Help: "Requests that ended in an Internal Server Error reply",
	})

	// Message metrics
	broadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcasts_total",
		Help: "Public messages broadcast to the room",
	})

	whispersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_whispers_total",
		Help: "Private messages delivered sender-to-recipient",
	})

	delayedScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_delayed_messages_scheduled_total",
		Help: "Delayed sends scheduled",
	})

	delayedCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_delayed_messages_cancelled_total",
		Help: "Delayed sends cancelled before firing",
	})

	spamRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_spam_rejections_total",
		Help: "Messages rejected by the spam window",
	})

	// Moderation metrics
	reportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_reports_total",
		Help: "Accepted user reports",
	})

	bansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_bans_total",
		Help: "Bans applied",
	})

	// Delivery metrics
	droppedWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_dropped_writes_total",
		Help: "Outbound lines dropped because a session's send buffer was full",
	})

	// System metrics
	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_memory_bytes",
		Help: "Current process RSS in bytes",
	})
)

func init() {
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(connectionsActive)
	prometheus.MustRegister(connectionsRateLimited)

	prometheus.MustRegister(commandsTotal)
	prometheus.MustRegister(handlerErrors)

	prometheus.MustRegister(broadcastsTotal)
	prometheus.MustRegister(whispersTotal)
	prometheus.MustRegister(delayedScheduled)
	prometheus.MustRegister(delayedCancelled)
	prometheus.MustRegister(spamRejections)

	prometheus.MustRegister(reportsTotal)
	prometheus.MustRegister(bansTotal)

	prometheus.MustRegister(droppedWrites)
	prometheus.MustRegister(memoryUsageBytes)
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// IncrementConnections records an accepted connection.
func IncrementConnections() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// DecrementConnections records a closed session.
func DecrementConnections() {
	connectionsActive.Dec()
}

// IncrementConnectionRateLimit records a rate-limited connection attempt.
// scope is "global" or "per_ip".
func IncrementConnectionRateLimit(scope string) {
	connectionsRateLimited.WithLabelValues(scope).Inc()
}

// IncrementCommand records a dispatched command by verb.
func IncrementCommand(verb string) {
	commandsTotal.WithLabelValues(verb).Inc()
}

// IncrementHandlerErrors records an Internal Server Error reply.
func IncrementHandlerErrors() {
	handlerErrors.Inc()
}

// IncrementBroadcasts records a public room broadcast.
func IncrementBroadcasts() {
	broadcastsTotal.Inc()
}

// IncrementWhispers records a private message delivery.
func IncrementWhispers() {
	whispersTotal.Inc()
}

// IncrementDelayedScheduled records a scheduled delayed send.
func IncrementDelayedScheduled() {
	delayedScheduled.Inc()
}

// IncrementDelayedCancelled records a cancelled delayed send.
func IncrementDelayedCancelled() {
	delayedCancelled.Inc()
}

// IncrementSpamRejections records a message rejected by the spam window.
func IncrementSpamRejections() {
	spamRejections.Inc()
}

// IncrementReports records an accepted report.
func IncrementReports() {
	reportsTotal.Inc()
}

// IncrementBans records an applied ban.
func IncrementBans() {
	bansTotal.Inc()
}

// IncrementDroppedWrites records an outbound line dropped on a full send
// buffer.
func IncrementDroppedWrites() {
	droppedWrites.Inc()
}

// SetMemoryUsage updates the process RSS gauge.
func SetMemoryUsage(bytes uint64) {
	memoryUsageBytes.Set(float64(bytes))
}
