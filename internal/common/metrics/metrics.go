package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	WebhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "webhook_delivery_duration_seconds",
			Help: "Duration of webhook delivery attempts in seconds",
		},
		[]string{"trigger"},
	)

	WebhookDeliveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_deliveries_in_flight",
			Help: "Number of webhook deliveries currently awaiting a response",
		},
	)

	WebhookResolutionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_resolution_failures_total",
			Help: "Total number of subscriber resolution failures",
		},
	)

	WebhookSubscribersResolved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_subscribers_resolved",
			Help:    "Number of subscribers resolved per trigger occurrence",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		},
		[]string{"trigger"},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Total number of booking state transitions by action and resulting status",
		},
		[]string{"action", "status"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_notifications_sent_total",
			Help: "Total number of email/SMS notifications sent by channel and outcome",
		},
		[]string{"channel", "status"},
	)
)
