package controller

import (
	"github.com/gin-gonic/gin"

	"codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/model"
)

// RegisterRoutes mounts the submission API. Role checks beyond
// authentication live in the service layer, except where an endpoint is
// restricted outright.
func RegisterRoutes(r *gin.Engine, h *SubmitController, verifier *middleware.TokenVerifier) {
	anyUser := middleware.AuthMiddleware(verifier, middleware.AuthPolicy{})
	studentOnly := middleware.AuthMiddleware(verifier, middleware.AuthPolicy{
		Roles: []string{model.RoleStudent},
	})
	staffOnly := middleware.AuthMiddleware(verifier, middleware.AuthPolicy{
		Roles: []string{model.RoleAdmin, model.RoleProfessor},
	})

	api := r.Group("/api/v1")

	submissions := api.Group("/submissions")
	submissions.POST("/submit", studentOnly, h.Submit)
	submissions.GET("/my", anyUser, h.ListMine)
	submissions.GET("/:id", anyUser, h.Get)
	submissions.GET("/:id/status", anyUser, h.GetStatus)
	submissions.POST("/:id/requeue", staffOnly, h.Requeue)

	queueGroup := api.Group("/queue")
	queueGroup.GET("/health", h.QueueHealth)
	queueGroup.GET("/lengths", staffOnly, h.QueueLengths)
}
