package api

import (
	"net/http"

	"outreach-backend/internal/auth/delivery"
	"outreach-backend/pkg/metrics"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	auth := delivery.AuthMiddleware(h.authUsecase)

	// Prometheus scrape endpoint
	r.GET("/metrics", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(c.Writer)
	})

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Tracking pixel, click redirect and provider webhooks (public)
		api.GET("/track", h.trackingHandler.Track)
		api.POST("/webhooks/email", h.trackingHandler.Webhook)

		// Scheduled job triggers for external cron
		internal := api.Group("/internal")
		internal.Use(delivery.SharedSecretMiddleware(h.config.CronSecret))
		{
			internal.POST("/poll", h.jobsHandler.RunPoll)
			internal.POST("/cooldowns/sweep", h.jobsHandler.RunSweep)
		}

		api.GET("/auth/me", auth, h.authHandler.Me)

		// FCM routes (protected)
		fcm := api.Group("/fcm")
		fcm.Use(auth)
		{
			fcm.POST("/register", h.authHandler.RegisterFCMToken)
			fcm.DELETE("/:token", h.authHandler.UnregisterFCMToken)
		}

		mailbox := api.Group("/mailbox")
		mailbox.Use(auth)
		{
			mailbox.GET("/status", h.mailboxHandler.Status)
			mailbox.POST("/watch", h.mailboxHandler.WatchMailbox)
		}

		outreach := api.Group("/outreach")
		outreach.Use(auth)
		{
			outreach.POST("/send", h.outreachHandler.Send)
		}

		conversations := api.Group("/conversations")
		conversations.Use(auth)
		{
			conversations.GET("", h.conversationHandler.ListThreads)
			conversations.GET("/:id", h.conversationHandler.GetThread)
			conversations.GET("/:id/messages", h.conversationHandler.ListMessages)
			conversations.POST("/:id/archive", h.conversationHandler.ArchiveThread)
		}

		cooldowns := api.Group("/cooldowns")
		cooldowns.Use(auth)
		{
			cooldowns.GET("", h.cooldownHandler.ListActive)
			cooldowns.GET("/check", h.cooldownHandler.Check)
		}

		tracking := api.Group("/tracking")
		tracking.Use(auth)
		{
			tracking.GET("/stats", h.trackingHandler.Stats)
			tracking.GET("/:token", h.trackingHandler.GetRecord)
		}
	}
}
