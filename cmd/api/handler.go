package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	authDelivery "outreach-backend/internal/auth/delivery"
	authRepo "outreach-backend/internal/auth/repository"
	authUsecase "outreach-backend/internal/auth/usecase"
	conversationDelivery "outreach-backend/internal/conversation/delivery"
	conversationUsecase "outreach-backend/internal/conversation/usecase"
	cooldownDelivery "outreach-backend/internal/cooldown/delivery"
	cooldownUsecase "outreach-backend/internal/cooldown/usecase"
	mailboxDelivery "outreach-backend/internal/mailbox/delivery"
	mailboxUsecase "outreach-backend/internal/mailbox/usecase"
	outreachDelivery "outreach-backend/internal/outreach/delivery"
	outreachUsecase "outreach-backend/internal/outreach/usecase"
	trackingDelivery "outreach-backend/internal/tracking/delivery"
	trackingUsecase "outreach-backend/internal/tracking/usecase"
	"outreach-backend/pkg/config"
	"outreach-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services are the use cases the HTTP layer is built on.
type Services struct {
	Auth          authUsecase.AuthUsecase
	FCMTokens     authRepo.FCMTokenRepository
	Accounts      *mailboxUsecase.AccountService
	Ledger        *cooldownUsecase.Ledger
	Conversations *conversationUsecase.Service
	Tracker       *trackingUsecase.Tracker
	Sender        *outreachUsecase.Sender
	Poller        JobPoller
}

type Handler struct {
	authUsecase         authUsecase.AuthUsecase
	config              *config.Config
	authHandler         *authDelivery.AuthHandler
	mailboxHandler      *mailboxDelivery.MailboxHandler
	cooldownHandler     *cooldownDelivery.CooldownHandler
	conversationHandler *conversationDelivery.ConversationHandler
	trackingHandler     *trackingDelivery.TrackingHandler
	outreachHandler     *outreachDelivery.OutreachHandler
	jobsHandler         *JobsHandler
}

func NewHandler(svc Services, cfg *config.Config) *Handler {
	return &Handler{
		authUsecase:         svc.Auth,
		config:              cfg,
		authHandler:         authDelivery.NewAuthHandler(svc.FCMTokens),
		mailboxHandler:      mailboxDelivery.NewMailboxHandler(svc.Accounts),
		cooldownHandler:     cooldownDelivery.NewCooldownHandler(svc.Ledger),
		conversationHandler: conversationDelivery.NewConversationHandler(svc.Conversations),
		trackingHandler:     trackingDelivery.NewTrackingHandler(svc.Tracker, cfg.PublicBaseURL, cfg.TrackingSecret, cfg.WebhookSecret),
		outreachHandler:     outreachDelivery.NewOutreachHandler(svc.Sender),
		jobsHandler:         NewJobsHandler(svc.Poller, svc.Ledger),
	}
}

// Engine builds the gin router with CORS and all routes.
func (h *Handler) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Webhook-Signature")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (h *Handler) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
