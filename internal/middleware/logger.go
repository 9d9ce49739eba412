package middleware

import (
	"time"

	"github.com/kirogateway/kirogateway/internal/logging"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs every request to both the client-facing relay and the
// admin surface, tagging it with the same error-kind vocabulary the
// credential pool's own failures use so relay and admin log lines can be
// correlated in one dashboard.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		extras := log.Fields{
			"status":     status,
			"latency_ms": logging.DurationMS(latency),
			"error_kind": logging.ErrorKind(status, len(c.Errors) > 0),
			"user_agent": c.Request.UserAgent(),
			"method":     method,
			"path":       path,
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
