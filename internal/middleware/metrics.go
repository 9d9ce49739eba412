package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirogateway/kirogateway/internal/monitoring"
)

// Metrics records request count and latency for every request it wraps,
// labeled with server (cmd/server passes "kirogateway" for its single
// router), for scraping by the teacher-style /metrics endpoint.
func Metrics(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		labels := []string{server, method, path, statusClass(status)}
		monitoring.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// SetRateLimitKeyGauge reports the current size of a rate limiter's TTL
// cache of per-key limiters.
func SetRateLimitKeyGauge(n int) {
	monitoring.RateLimitKeysGauge.Set(float64(n))
}

// RecordRateLimitSweep records one TTL-cache eviction sweep.
func RecordRateLimitSweep() {
	monitoring.RateLimitSweepsTotal.Inc()
}

// RecordRateLimitRejection records a request turned away by the rate
// limiter, labeled by which limiter tripped ("global", "key" or "ip").
func RecordRateLimitRejection(scope string) {
	monitoring.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// MetricsHandler exposes the process's registered Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
