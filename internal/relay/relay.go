// Package relay is the thin client-facing caller the pool manager's core
// was designed to sit under. It is deliberately minimal: it acquires a call
// context, relays the request to the upstream Kiro endpoint, and reports
// success or failure — it does not reshape the served protocol, which
// stays out of scope.
package relay

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/kirogateway/kirogateway/internal/middleware"
	"github.com/kirogateway/kirogateway/internal/pool"
)

// Handler relays client requests through the Pool Manager to the upstream
// service.
type Handler struct {
	manager    *pool.Manager
	httpClient *http.Client
	upstream   string
	apiKey     string
}

// NewHandler builds a relay bound to a Manager and the upstream region.
func NewHandler(manager *pool.Manager, region, apiKey string) *Handler {
	return &Handler{
		manager:    manager,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		upstream:   fmt.Sprintf("https://q.%s.amazonaws.com", region),
		apiKey:     apiKey,
	}
}

// WithUpstreamBase overrides the upstream host, e.g. to point at an
// httptest.Server in tests.
func (h *Handler) WithUpstreamBase(base string) *Handler {
	h.upstream = base
	return h
}

// RequireAPIKey enforces the client-facing bearer api_key, constant-time
// compared.
func (h *Handler) RequireAPIKey() gin.HandlerFunc {
	key := []byte(h.apiKey)
	return func(c *gin.Context) {
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		token := ""
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token = strings.TrimSpace(auth[len("bearer "):])
		}
		if len(token) != len(key) || subtle.ConstantTimeCompare([]byte(token), key) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// ServeHTTP acquires a credential, relays the request, and reports the
// outcome back to the pool. On a refresh-classified acquire failure it has
// already exhausted the pool's retry budget inside AcquireContext, so a
// single relay attempt is sufficient here.
func (h *Handler) ServeHTTP(c *gin.Context) {
	ctx := c.Request.Context()

	cc, err := h.manager.AcquireContext(ctx)
	if err != nil {
		log.WithError(err).Warn("relay: failed to acquire a call context")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	upstreamURL := h.upstream + c.Param("path")
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		upstreamURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}
	for name, values := range c.Request.Header {
		if strings.EqualFold(name, "Authorization") || strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+cc.AccessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		_, _ = h.manager.ReportFailure(cc.ID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized {
		_, _ = h.manager.ReportFailure(cc.ID)
	} else {
		h.manager.ReportSuccess(cc.ID)
	}

	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Status(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

// Mount registers the relay under /v1, gated by the shared client API key
// and rate limited per that key (rps requests/sec, burst burst) to absorb
// a noisy client without exhausting the pool's upstream budget.
func Mount(router gin.IRouter, h *Handler, rps, burst int) {
	group := router.Group("/v1")
	group.Use(h.RequireAPIKey())
	group.Use(middleware.RateLimiterAutoKey(rps, burst))
	group.Any("/*path", h.ServeHTTP)
}
