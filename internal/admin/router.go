package admin

import "github.com/gin-gonic/gin"

// Mount registers the admin surface under /api/admin on the given router,
// gated behind RequireAdminKey. Callers must only invoke Mount when
// adminAPIKey is non-blank; an empty key means the surface does not exist.
func Mount(router gin.IRouter, svc *Service, adminAPIKey string) {
	h := NewHandlers(svc)
	group := router.Group("/api/admin")
	group.Use(RequireAdminKey(adminAPIKey))

	group.GET("/credentials", h.ListCredentials)
	group.POST("/credentials", h.AddCredential)
	group.DELETE("/credentials/:id", h.DeleteCredential)
	group.POST("/credentials/:id/disabled", h.SetDisabled)
	group.POST("/credentials/:id/priority", h.SetPriority)
	group.POST("/credentials/:id/reset", h.ResetCredential)
	group.GET("/credentials/:id/balance", h.GetBalance)
	group.POST("/credentials/recover", h.ForceRecoverAll)
	group.GET("/health", h.Health)
}
