// Package metrics exposes Prometheus instrumentation for the
// attestation service's hot paths and background worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pbi_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	ChallengesMinted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbi_challenges_minted_total",
			Help: "Total number of challenges minted, by tenant and purpose",
		},
		[]string{"tenant_id", "purpose"},
	)

	VerifyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbi_verify_decisions_total",
			Help: "Total number of verify decisions, by decision and reason",
		},
		[]string{"decision", "reason"},
	)

	VerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pbi_verify_duration_seconds",
			Help:    "Duration of the verify orchestration path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)

	QuotaDebitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbi_quota_debits_total",
			Help: "Total quota debit attempts, by tenant and outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	WebhookDeliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbi_webhook_delivery_total",
			Help: "Total webhook delivery attempts, by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pbi_webhook_delivery_duration_seconds",
			Help:    "Duration of outbound webhook POST attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	WebhookQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pbi_webhook_queue_depth",
			Help: "Number of webhook deliveries currently pending",
		},
	)

	WebhookDeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pbi_webhook_dead_letter_total",
			Help: "Total deliveries moved to the failed terminal state",
		},
		[]string{"tenant_id"},
	)

	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pbi_http_in_flight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ChallengesMinted,
		VerifyDecisions,
		VerifyDuration,
		QuotaDebitsTotal,
		WebhookDeliveryTotal,
		WebhookDeliveryDuration,
		WebhookQueueDepth,
		WebhookDeadLetterTotal,
		HTTPInFlight,
	)
}

// GinMiddleware records per-request HTTP metrics.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		HTTPInFlight.Inc()
		defer HTTPInFlight.Dec()

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}
