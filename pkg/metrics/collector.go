// Package metrics exposes the Prometheus instruments shared across components.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Total number of payment webhooks labeled by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)
	webhookDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_webhook_duration_seconds",
			Help:    "Duration of payment webhook handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	paymentLinksCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_links_created_total",
			Help: "Total number of payment links issued",
		},
	)
	premiumGrantsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "premium_grants_total",
			Help: "Total number of premium subscriptions granted",
		},
	)
	quotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Total number of message quota checks by tier and result",
		},
		[]string{"tier", "result"},
	)
	notificationsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_enqueued_total",
			Help: "Total number of notifications enqueued by status",
		},
		[]string{"status"},
	)
	notificationsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Total number of notification delivery attempts by final status",
		},
		[]string{"status"},
	)
	deliveryDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Duration of a notification delivery including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
	sweepRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_rows_total",
			Help: "Total number of rows handled by expiry sweeps",
		},
		[]string{"sweep", "result"},
	)
	sweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of sweep runs by status",
		},
		[]string{"status"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands handled by command and status",
		},
		[]string{"command", "status"},
	)
	botCommandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_command_duration_seconds",
			Help:    "Duration of bot command handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
)

// RecordWebhook counts a handled webhook and observes its duration.
func RecordWebhook(outcome, reason string, duration time.Duration) {
	webhooksTotal.WithLabelValues(orUnknown(outcome), orUnknown(reason)).Inc()
	webhookDurationSeconds.Observe(duration.Seconds())
}

func RecordPaymentLinkCreated() {
	paymentLinksCreatedTotal.Inc()
}

func RecordPremiumGranted() {
	premiumGrantsTotal.Inc()
}

// RecordQuotaCheck tracks quota decisions by tier.
func RecordQuotaCheck(premium, allowed bool) {
	tier := "regular"
	if premium {
		tier = "premium"
	}
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	quotaChecksTotal.WithLabelValues(tier, result).Inc()
}

func RecordEnqueue(status string) {
	notificationsEnqueuedTotal.WithLabelValues(orUnknown(status)).Inc()
}

// RecordDelivery counts a finished delivery (delivered, dropped, requeued).
func RecordDelivery(status string, duration time.Duration) {
	notificationsDeliveredTotal.WithLabelValues(orUnknown(status)).Inc()
	deliveryDurationSeconds.Observe(duration.Seconds())
}

func RecordSweepRows(sweep, result string, count int) {
	if count <= 0 {
		return
	}
	sweepRowsTotal.WithLabelValues(orUnknown(sweep), orUnknown(result)).Add(float64(count))
}

func RecordSweepRun(status string) {
	sweepRunsTotal.WithLabelValues(orUnknown(status)).Inc()
}

// RecordHTTPRequest counts a served HTTP request.
func RecordHTTPRequest(route string, code int, duration time.Duration) {
	route = orUnknown(route)
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCommand counts a handled bot command.
func RecordCommand(command, status string, duration time.Duration) {
	command = orUnknown(command)
	botCommandsTotal.WithLabelValues(command, orUnknown(status)).Inc()
	botCommandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(orUnknown(errType), orUnknown(severity)).Inc()
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
