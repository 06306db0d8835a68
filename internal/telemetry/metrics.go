// Package telemetry provides application-level observability for the key provider.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<AKP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router and
// is therefore absent from the OpenAPI document.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - API key lifecycle counters
//   - Stripe webhook outcomes and purchased credits
//   - Email delivery, rate limiter rejections and gateway usage rows
//   - Scheduled job runs, API key expiry notifications and recovered background panics
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/orgs/:orgId/keys)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as organization or key ids.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/rnblock/api-key-provider/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.APIKeyOperationsTotal.WithLabelValues("create", environment).Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics; labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/orgs/:orgId/keys),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Key lifecycle metrics, recorded by the key service after a successful mutation.
//
// APIKeyOperationsTotal is a CounterVec with labels {operation, environment}; operation is one of
// create, revoke, update or delete.
//
// Example PromQL queries:
//   - Keys issued per day:    sum(increase(apikey_operations_total{operation="create"}[1d]))
//   - Revocations by env:     sum by (environment) (rate(apikey_operations_total{operation="revoke"}[1h]))
var APIKeyOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apikey_operations_total",
		Help: "Total number of API key mutations, by operation and key environment.",
	},
	[]string{"operation", "environment"},
)

// Billing metrics, recorded by the Stripe webhook processor.
//
// StripeWebhookEventsTotal is a CounterVec with labels {type, outcome}; outcome is one of
// processed, duplicate, ignored or failed.  A non-zero failed rate means events are sitting on the
// stripe_events table with a processing_error and will only be retried on redelivery.
//
// CreditsPurchasedTotal counts credits added to organization wallets, by plan.
//
// Example PromQL queries:
//   - Failed events (alert):  increase(stripe_webhook_events_total{outcome="failed"}[30m]) > 0
//   - Credits sold per day:   sum(increase(credits_purchased_total[1d]))
var (
	StripeWebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripe_webhook_events_total",
			Help: "Total number of verified Stripe webhook events, by event type and processing outcome.",
		},
		[]string{"type", "outcome"},
	)

	CreditsPurchasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credits_purchased_total",
			Help: "Total number of credits added to organization wallets by completed checkouts, by plan.",
		},
		[]string{"plan"},
	)
)

// Email metrics, recorded by the mail dispatcher.
//
// EmailsSentTotal is a CounterVec with labels {type, transport, outcome}; transport is queue, smtp
// or log.
//
// Example PromQL queries:
//   - Delivery failures:  sum by (type) (rate(emails_sent_total{outcome="error"}[1h]))
var EmailsSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "emails_sent_total",
		Help: "Total number of emails handed to a transport, by template type, transport and outcome.",
	},
	[]string{"type", "transport", "outcome"},
)

// Rate limiting and gateway metrics.
//
// RateLimitRejectionsTotal is a CounterVec with label {limiter}: auth, api_key, email_user,
// email_global or http.
//
// UsageLogsRecordedTotal counts usage rows written for gateway calls, by service name.
var (
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by a rate limiter, by limiter.",
		},
		[]string{"limiter"},
	)

	UsageLogsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_logs_recorded_total",
			Help: "Total number of gateway usage log rows recorded, by service.",
		},
		[]string{"service"},
	)
)

// APIKeyExpiryNotificationsSentTotal is a plain Counter (no labels) incremented once
// per email successfully delivered by the api_key_expiry_notifier background job.
// A stalled counter combined with api keys approaching expiry is a useful alert signal
// for mail delivery failures.
//
// Example PromQL queries:
//   - Rate of notifications sent:  rate(apikey_expiry_notifications_sent_total[24h])
var APIKeyExpiryNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "apikey_expiry_notifications_sent_total",
		Help: "Total number of API key expiry warning emails successfully sent.",
	},
)

// ScheduledJobRunsTotal is a CounterVec with labels {job, outcome} recorded by every cron job run.
var ScheduledJobRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduled_job_runs_total",
		Help: "Total number of scheduled job runs, by job name and outcome.",
	},
	[]string{"job", "outcome"},
)

// BackgroundPanicsTotal is a CounterVec with label {task} counting panics recovered in
// fire-and-forget goroutines. Any non-zero rate is a bug.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_panics_total",
		Help: "Total number of panics recovered in background goroutines, by task.",
	},
	[]string{"task"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <AKP_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
