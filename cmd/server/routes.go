package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/internal/middleware"
	"github.com/huangang/feedbackloop/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.CORSOrigins))

	r.GET("/health", svc.healthHandler.CheckHealth)

	// Channel webhook, authenticated by signature
	webhook := r.Group("/webhook", svc.webhookLimiter.Middleware())
	{
		webhook.GET("", svc.webhookHandler.Verify)
		webhook.POST("", svc.webhookHandler.Receive)
	}

	api := r.Group("/api")
	api.Use(middleware.TokenRequired(svc.cfg.Server.APIToken))
	{
		api.POST("/visits", svc.visitHandler.Record)

		api.GET("/feedback", svc.feedbackHandler.List)
		api.GET("/feedback/manual-review", svc.feedbackHandler.ManualReview)
		api.GET("/feedback/:visit_id", svc.feedbackHandler.Get)
		api.GET("/events/transitions", svc.sseHandler.StreamTransitions)
		api.GET("/metrics", svc.metricsHandler.Metrics)

		admin := api.Group("", middleware.AuditLog())
		{
			admin.GET("/im-bots", svc.imBotHandler.List)
			admin.GET("/im-bots/active", svc.imBotHandler.GetAllActive)
			admin.GET("/im-bots/:id", svc.imBotHandler.GetByID)
			admin.POST("/im-bots", svc.imBotHandler.Create)
			admin.PUT("/im-bots/:id", svc.imBotHandler.Update)
			admin.DELETE("/im-bots/:id", svc.imBotHandler.Delete)
			admin.POST("/im-bots/:id/test", svc.imBotHandler.Test)

			admin.GET("/llm-configs", svc.llmConfigHandler.List)
			admin.GET("/llm-configs/:id", svc.llmConfigHandler.GetByID)
			admin.POST("/llm-configs", svc.llmConfigHandler.Create)
			admin.PUT("/llm-configs/:id", svc.llmConfigHandler.Update)
			admin.DELETE("/llm-configs/:id", svc.llmConfigHandler.Delete)
			admin.POST("/llm-configs/:id/test", svc.llmConfigHandler.Test)

			admin.GET("/settings/routing", svc.systemConfigHandler.GetRoutingSettings)
			admin.PUT("/settings/routing", svc.systemConfigHandler.UpdateRoutingSettings)

			admin.GET("/system-logs", svc.systemLogHandler.List)
			admin.GET("/system-logs/modules", svc.systemLogHandler.GetModules)
		}
	}
}
