package middleware

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"

	"github.com/kirogateway/kirogateway/internal/logging"
)

// RequestID stamps every request with a correlation id, reusing an
// inbound X-Request-ID when the caller already set one (useful when the
// relay sits behind another proxy that generates its own id).
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			var b [16]byte
			_, _ = rand.Read(b[:])
			rid = hex.EncodeToString(b[:])
		}
		c.Set(logging.RequestIDKey, rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// RequestIDFromContext returns the correlation id RequestID stamped onto
// c, or "" if the middleware never ran (e.g. a handler invoked directly
// from a test).
func RequestIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(logging.RequestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
