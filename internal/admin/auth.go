package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// extractBearer pulls a bearer token from the Authorization header, falling
// back to x-api-key for operators scripting with curl against either
// convention.
func extractBearer(c *gin.Context) string {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[len("bearer "):])
		}
	}
	return strings.TrimSpace(c.GetHeader("x-api-key"))
}

// RequireAdminKey enforces an exact, constant-time comparison against
// adminKey. Callers must not register this middleware at all when adminKey
// is blank — that is how the surface is disabled entirely, per spec.
func RequireAdminKey(adminKey string) gin.HandlerFunc {
	key := []byte(adminKey)
	return func(c *gin.Context) {
		token := []byte(extractBearer(c))
		if len(token) != len(key) || subtle.ConstantTimeCompare(token, key) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
				"kind":  "invalid_request",
			})
			return
		}
		c.Next()
	}
}
