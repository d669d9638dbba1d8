// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsComposed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_composed_total",
			Help: "Total number of notifications composed, by template and outcome",
		},
		[]string{"template", "outcome"},
	)

	ChannelSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_channel_sends_total",
			Help: "Total number of channel delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	ChannelSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notify_channel_send_duration_seconds",
			Help: "Duration of channel delivery attempts in seconds",
		},
		[]string{"channel"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_queue_depth",
			Help: "Number of chunks waiting in the delivery queue",
		},
	)

	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_retries_scheduled_total",
			Help: "Total number of delivery retries scheduled",
		},
	)

	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deeplink_redirects_total",
			Help: "Total number of smart-link redirects by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	ProducerRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_producer_rows_total",
			Help: "Source rows turned into notifications by producer",
		},
		[]string{"producer", "outcome"},
	)
)
