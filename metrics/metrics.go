package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_emails_sent_total",
			Help: "Total emails successfully handed to the provider",
		},
	)

	SendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_send_failures_total",
			Help: "Total send failures by kind",
		},
		[]string{"kind"},
	)

	SendRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_send_retries_total",
			Help: "Total transient failures rescheduled for retry",
		},
	)

	ClaimsLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_claims_lost_total",
			Help: "Due rows another dispatcher instance claimed first",
		},
	)

	SuppressedAtDispatch = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_suppressed_at_dispatch_total",
			Help: "Claimed rows cancelled by the dispatch-time suppression check",
		},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_webhook_events_total",
			Help: "Delivery webhook events processed by type",
		},
		[]string{"event_type"},
	)

	WebhookDuplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lifecycle_webhook_duplicates_total",
			Help: "Webhook deliveries deduplicated as provider retries",
		},
	)

	DueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifecycle_due_backlog",
			Help: "Due rows observed in the last dispatcher poll",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(SendFailures)
	prometheus.MustRegister(SendRetries)
	prometheus.MustRegister(ClaimsLost)
	prometheus.MustRegister(SuppressedAtDispatch)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(WebhookDuplicates)
	prometheus.MustRegister(DueBacklog)
}
