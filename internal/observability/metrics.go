package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "drivuber", Name: "searches_total", Help: "Total trip searches"})
	MatchesTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "drivuber", Name: "matches_total", Help: "Search results by match kind"}, []string{"kind"})
	SearchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "drivuber", Name: "search_latency_seconds", Help: "Search latency seconds"})
	BookingsTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "drivuber", Name: "bookings_total", Help: "Booking attempts by outcome"}, []string{"outcome"})
	PostedTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "drivuber", Name: "posted_rides_total", Help: "Total rides posted"})
	SessionsActive  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "drivuber", Name: "sessions_active", Help: "Client sessions held in memory"})
	ChatMessages    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "drivuber", Name: "chat_messages_total", Help: "Chat messages appended by sender"}, []string{"sender"})
	MapsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "drivuber", Name: "maps_errors_total", Help: "Mapping provider failures by kind"}, []string{"kind"})
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "drivuber", Name: "events_published_total", Help: "Domain events published by type and result"}, []string{"type", "result"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "drivuber", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drivuber",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
