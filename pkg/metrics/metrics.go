package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Number of jobs waiting for dispatch",
		},
	)

	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_job_outcomes_total",
			Help: "Terminal job outcomes",
		},
		[]string{"outcome"}, // completed, retried, failed
	)

	PipelineLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_process_duration_seconds",
			Help:    "End-to-end processing time per job",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	EmailsByStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_processed_total",
			Help: "Emails by terminal status",
		},
		[]string{"status"}, // processed, unmatched, failed
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications created by type",
		},
		[]string{"type"},
	)

	DeliveryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_outcomes_total",
			Help: "Notification delivery outcomes by channel",
		},
		[]string{"channel", "outcome"}, // outcome: ok, error
	)

	PollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbox_poll_ticks_total",
			Help: "Mailbox poll ticks by result",
		},
		[]string{"result"}, // ok, error
	)
)

// ObservePipelineLatency records one job's processing duration.
func ObservePipelineLatency(d time.Duration) {
	PipelineLatency.Observe(d.Seconds())
}

// IncJobOutcome records a job outcome.
func IncJobOutcome(outcome string) {
	JobOutcomes.WithLabelValues(outcome).Inc()
}

// IncEmailStatus records an email reaching a terminal status.
func IncEmailStatus(status string) {
	EmailsByStatus.WithLabelValues(status).Inc()
}

// IncNotification records a created notification.
func IncNotification(typ string) {
	NotificationsCreated.WithLabelValues(typ).Inc()
}

// IncDelivery records a delivery channel outcome.
func IncDelivery(channel, outcome string) {
	DeliveryOutcomes.WithLabelValues(channel, outcome).Inc()
}
