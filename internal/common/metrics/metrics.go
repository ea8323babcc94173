// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChargeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charge_attempts_total",
			Help: "Total number of automatic charge attempts by outcome",
		},
		[]string{"outcome"},
	)

	ChargeAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "billing_charge_attempt_duration_seconds",
			Help: "Duration of a full charge attempt including retries",
		},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Total number of webhook events processed by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	ReconcileCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles by outcome",
		},
		[]string{"outcome"},
	)

	SubscriptionsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_subscriptions_scanned_total",
			Help: "Total number of subscriptions visited by the scheduler",
		},
	)

	WebhookQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_webhook_queue_dropped_total",
			Help: "Webhook events dropped because the task queue was saturated",
		},
	)
)
