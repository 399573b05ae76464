package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushAttempts counts individual push sends by result (sent|failed|gone).
	PushAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_push_attempts_total",
			Help: "Total number of push sends to individual subscriptions",
		},
		[]string{"result"},
	)

	// SubscriptionsRemoved counts subscriptions pruned after the push service reported them gone.
	SubscriptionsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nudge_subscriptions_removed_total",
			Help: "Total number of subscriptions removed as permanently gone",
		},
	)

	// DeliveryDuration measures a full fan-out including batch staggering.
	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nudge_delivery_duration_seconds",
			Help:    "Duration of a notification fan-out to all subscriptions",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Firings counts notification firings by source (cron|heartbeat|test).
	Firings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_notification_firings_total",
			Help: "Total number of notification firings",
		},
		[]string{"source"},
	)

	// SkippedFirings counts triggers that found their record already deleted.
	SkippedFirings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nudge_notification_skipped_firings_total",
			Help: "Triggers skipped because the notification was deleted",
		},
	)

	// RegisteredTriggers tracks the number of live scheduler entries.
	RegisteredTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nudge_registered_triggers",
			Help: "Number of notification triggers currently registered",
		},
	)
)
