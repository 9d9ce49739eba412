package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS provides Cross-Origin Resource Sharing support for the client-facing
// relay. allowedOrigins, typically the dashboard/app origins that call the
// relay from a browser, are matched verbatim against the Origin header; an
// empty list falls back to "*" for operators who haven't configured one.
// The admin surface (/api/admin) is served same-origin by design and
// deliberately skips CORS headers entirely rather than widening its
// cross-origin surface.
func CORS(allowedOrigins ...string) gin.HandlerFunc {
	allowAny := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.Contains(path, "/api/admin") {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		switch {
		case allowAny:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; ok {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Set("Vary", "Origin")
			}
		}
		// Credentials are not required for bearer-token style API calls;
		// avoid enabling credentials alongside a wildcard origin.
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
