package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_posted_total",
			Help: "Total messages persisted",
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	// Fan-out metrics
	BroadcastPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_broadcast_published_total",
			Help: "Messages published to a broadcaster",
		},
		[]string{"channel"},
	)

	BroadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_broadcast_dropped_total",
			Help: "Messages published while no subscriber was registered",
		},
		[]string{"channel"},
	)

	SubscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "parley_subscribers_active",
			Help: "Currently open subscriptions",
		},
		[]string{"channel"},
	)

	SubscriberLagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_subscriber_lagged_messages_total",
			Help: "Messages skipped by subscribers that fell behind",
		},
		[]string{"channel"},
	)

	KeepAlivesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_keepalives_sent_total",
			Help: "Keep-alive frames written to idle subscribers",
		},
		[]string{"channel"},
	)

	SubscriptionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_subscriptions_ended_total",
			Help: "Subscriptions terminated, by reason",
		},
		[]string{"channel", "reason"},
	)

	// Event export metrics
	EventsExported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_exported_total",
			Help: "Message events handed to the event sink",
		},
		[]string{"result"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_store_latency_seconds",
			Help:    "Store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)
)
