package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parking_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_booking_transitions_total",
			Help: "Committed booking transitions by operation and resulting status",
		},
		[]string{"operation", "status"},
	)

	BookingConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parking_booking_conflicts_total",
			Help: "Booking operations rejected because the booking changed underneath",
		},
		[]string{"operation"},
	)

	BookingsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_bookings_expired_total",
			Help: "Pending bookings expired by the sweeper",
		},
	)

	SweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_sweep_errors_total",
			Help: "Sweeper failures, listing or per booking",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parking_outbox_lag_seconds",
			Help: "Age of the oldest event relayed in the last outbox batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parking_realtime_connections",
			Help: "Open websocket connections",
		},
	)

	RealtimeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_realtime_dropped_total",
			Help: "Websocket clients dropped for not keeping up",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parking_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
