package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handlers binds a Service to gin handler functions.
type Handlers struct {
	svc *Service
}

// NewHandlers wraps a Service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func respondError(c *gin.Context, err error) {
	kind := Classify(err)
	c.JSON(kind.HTTPStatus(), gin.H{"error": err.Error(), "kind": string(kind)})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "kind": string(KindInvalidRequest)})
		return 0, false
	}
	return id, true
}

// ListCredentials handles GET /api/admin/credentials.
func (h *Handlers) ListCredentials(c *gin.Context) {
	views, currentID, err := h.svc.ListCredentials(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": views, "currentId": currentID})
}

// AddCredential handles POST /api/admin/credentials.
func (h *Handlers) AddCredential(c *gin.Context) {
	var req AddCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": string(KindInvalidRequest)})
		return
	}
	id, err := h.svc.AddCredential(c.Request.Context(), req)
	logAudit(c, "add_credential", id, err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// DeleteCredential handles DELETE /api/admin/credentials/:id.
func (h *Handlers) DeleteCredential(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := h.svc.DeleteCredential(id)
	logAudit(c, "delete_credential", id, err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type setDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// SetDisabled handles POST /api/admin/credentials/:id/disabled.
func (h *Handlers) SetDisabled(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req setDisabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": string(KindInvalidRequest)})
		return
	}
	err := h.svc.SetDisabled(id, req.Disabled)
	logAudit(c, "set_disabled", id, err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type setPriorityRequest struct {
	Priority uint32 `json:"priority"`
}

// SetPriority handles POST /api/admin/credentials/:id/priority.
func (h *Handlers) SetPriority(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req setPriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": string(KindInvalidRequest)})
		return
	}
	err := h.svc.SetPriority(id, req.Priority)
	logAudit(c, "set_priority", id, err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ResetCredential handles POST /api/admin/credentials/:id/reset.
func (h *Handlers) ResetCredential(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := h.svc.ResetCredential(id)
	logAudit(c, "reset_credential", id, err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetBalance handles GET /api/admin/credentials/:id/balance.
func (h *Handlers) GetBalance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limits, err := h.svc.GetBalance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscriptionTitle": limits.SubscriptionTitle,
		"currentUsage":      limits.CurrentUsage,
		"usageLimit":        limits.UsageLimit,
		"nextResetAt":       limits.NextResetAt,
	})
}

// ForceRecoverAll handles POST /api/admin/credentials/recover.
func (h *Handlers) ForceRecoverAll(c *gin.Context) {
	n, err := h.svc.ForceRecoverAll()
	logAudit(c, "force_recover_all", 0, err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": n})
}

// Health handles GET /api/admin/health.
func (h *Handlers) Health(c *gin.Context) {
	health, err := h.svc.Health()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}
