package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "galchat_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "galchat_rooms_deleted_total",
			Help: "Total rooms deleted",
		},
	)

	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "galchat_messages_appended_total",
			Help: "Total messages appended across all rooms",
		},
	)

	SuggestionsRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galchat_suggestions_requested_total",
			Help: "Total suggestion requests",
		},
		[]string{"mode"}, // "room", "freetext", "history"
	)

	SuggestionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galchat_suggestions_completed_total",
			Help: "Completed suggestion tasks by outcome",
		},
		[]string{"outcome"}, // "ready", "failed", "superseded"
	)

	// Gateway metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "galchat_connected_clients",
			Help: "Currently connected streaming clients",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "galchat_events_dropped_total",
			Help: "Events dropped on slow client connections",
		},
	)

	// Infrastructure metrics
	ProviderLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galchat_provider_latency_seconds",
			Help:    "LLM provider call latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	StoreLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galchat_store_latency_seconds",
			Help:    "Durable store write latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "galchat_persist_failures_total",
			Help: "Messages that failed to reach the durable store",
		},
	)
)
