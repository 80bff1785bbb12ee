package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	chatConnectionsActive prometheus.Gauge
	chatMessagesSentTotal *prometheus.CounterVec
	chatBroadcastsTotal   *prometheus.CounterVec
	chatRealtimeErrors    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the chat service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of chat API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_http_latency_seconds",
			Help:    "Latency distribution for chat API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_errors_total",
			Help: "Total number of error responses returned by chat endpoints.",
		}, []string{"method", "route", "status"})

		chatConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of live websocket chat connections.",
		})

		chatMessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of chat messages persisted, by message type.",
		}, []string{"type"})

		chatBroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_broadcasts_total",
			Help: "Total number of realtime events fanned out to rooms.",
		}, []string{"event"})

		chatRealtimeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_realtime_errors_total",
			Help: "Total number of failed realtime event handler invocations.",
		}, []string{"event"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			chatConnectionsActive,
			chatMessagesSentTotal,
			chatBroadcastsTotal,
			chatRealtimeErrors,
		)
	})
}

// HTTPRequests exposes the counter for chat API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for chat API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for chat API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// ChatConnectionsActive exposes the live connection gauge.
func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnectionsActive
}

// ChatMessagesSent exposes the per-type message counter.
func ChatMessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesSentTotal
}

// ChatBroadcasts exposes the per-event broadcast counter.
func ChatBroadcasts() *prometheus.CounterVec {
	RegisterMetrics()
	return chatBroadcastsTotal
}

// ChatRealtimeErrors exposes the per-event handler failure counter.
func ChatRealtimeErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return chatRealtimeErrors
}
