// Package monitoring defines the process-wide Prometheus metrics the
// relay, admin service and credential pool record into. Metrics are
// registered once at package init via promauto; callers only ever
// increment/observe/set, never construct collectors themselves.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts every request that passes through
	// middleware.Metrics, labeled by the server name given to it
	// (cmd/server uses "kirogateway" for its single router), method, path
	// and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kirogateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"server", "method", "path", "status_class"},
	)

	// HTTPRequestDuration observes request latency for the same label set.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kirogateway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"server", "method", "path", "status_class"},
	)

	// RateLimitKeysGauge tracks the current size of the relay's per-API-key
	// rate limiter TTL cache.
	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kirogateway_ratelimit_keys",
			Help: "Current number of per-key rate limiters held by the relay",
		},
	)

	// RateLimitSweepsTotal counts TTL-cache eviction sweeps over expired
	// per-key limiters.
	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kirogateway_ratelimit_sweeps_total",
			Help: "Total number of rate limiter TTL cache sweeps",
		},
	)

	// RateLimitRejectionsTotal counts requests the rate limiters turned away,
	// labeled by which limiter tripped ("global", "key" or "ip").
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kirogateway_ratelimit_rejections_total",
			Help: "Total number of requests rejected by the relay rate limiter",
		},
		[]string{"scope"},
	)

	// CredentialFailuresTotal counts report_failure calls against the pool,
	// labeled by whether that failure tripped the automatic disable.
	CredentialFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kirogateway_credential_failures_total",
			Help: "Total number of API-call failures reported against pool credentials",
		},
		[]string{"disabled"},
	)

	// CredentialPoolEnabledGauge tracks the pool's enabled-credential count.
	CredentialPoolEnabledGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kirogateway_credential_pool_enabled",
			Help: "Number of enabled credentials currently in the pool",
		},
	)
)
