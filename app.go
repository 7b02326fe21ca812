package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "outreach-backend/cmd/api"
	authdomain "outreach-backend/internal/auth/domain"
	authRepo "outreach-backend/internal/auth/repository"
	authUsecase "outreach-backend/internal/auth/usecase"
	conversationdomain "outreach-backend/internal/conversation/domain"
	conversationRepo "outreach-backend/internal/conversation/repository"
	conversationUsecase "outreach-backend/internal/conversation/usecase"
	cooldowndomain "outreach-backend/internal/cooldown/domain"
	cooldownRepo "outreach-backend/internal/cooldown/repository"
	cooldownUsecase "outreach-backend/internal/cooldown/usecase"
	inboundUsecase "outreach-backend/internal/inbound/usecase"
	mailboxUsecase "outreach-backend/internal/mailbox/usecase"
	"outreach-backend/internal/notification"
	outreachUsecase "outreach-backend/internal/outreach/usecase"
	trackingdomain "outreach-backend/internal/tracking/domain"
	trackingRepo "outreach-backend/internal/tracking/repository"
	trackingUsecase "outreach-backend/internal/tracking/usecase"
	"outreach-backend/pkg/config"
	"outreach-backend/pkg/database"
	"outreach-backend/pkg/errtrack"
	"outreach-backend/pkg/fcm"
	"outreach-backend/pkg/gmail"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the wired services shared by every command.
type app struct {
	cfg           *config.Config
	db            *gorm.DB
	fcmRepo       authRepo.FCMTokenRepository
	auth          authUsecase.AuthUsecase
	accounts      *mailboxUsecase.AccountService
	ledger        *cooldownUsecase.Ledger
	conversations *conversationUsecase.Service
	tracker       *trackingUsecase.Tracker
	sender        *outreachUsecase.Sender
	poller        *inboundUsecase.Poller
}

// bootstrap loads configuration and initializes logging, error tracking
// and metrics. Every command starts here.
func bootstrap() (*config.Config, error) {
	cfg := config.Load()
	if err := logger.Init(cfg.LogPath, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := errtrack.Init(cfg.SentryDSN, cfg.SentryEnvironment, Version); err != nil {
		logger.Warn("failed to initialize error tracking", zap.Error(err))
	}
	metrics.SetEnabled(cfg.MetricsEnabled)
	return cfg, nil
}

func models() []interface{} {
	return []interface{}{
		&authdomain.User{},
		&authdomain.FCMToken{},
		&cooldowndomain.Cooldown{},
		&conversationdomain.Thread{},
		&conversationdomain.Message{},
		&trackingdomain.Record{},
	}
}

func openDatabase(cfg *config.Config, migrate bool) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.AutoMigrate(models()...); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config, db *gorm.DB) (*app, error) {
	// Initialize repositories (dependency injection)
	userRepo := authRepo.NewUserRepository(db)
	fcmTokenRepo := authRepo.NewFCMTokenRepository(db)

	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.ProviderTimeout)
	accounts := mailboxUsecase.NewAccountService(userRepo, gmailService, cfg)

	conversations := conversationUsecase.NewService(
		conversationRepo.NewThreadRepository(db),
		conversationRepo.NewMessageRepository(db),
	)
	tracker := trackingUsecase.NewTracker(trackingRepo.NewTrackingRepository(db), conversations)
	conversations.SetReplyObserver(tracker)

	ledger := cooldownUsecase.NewLedger(cooldownRepo.NewCooldownRepository(db), newNotifier(ctx, cfg, fcmTokenRepo), cfg)

	poller, err := inboundUsecase.NewPoller(accounts, conversations, cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:           cfg,
		db:            db,
		fcmRepo:       fcmTokenRepo,
		auth:          authUsecase.NewAuthUsecase(userRepo, cfg),
		accounts:      accounts,
		ledger:        ledger,
		conversations: conversations,
		tracker:       tracker,
		sender:        outreachUsecase.NewSender(ledger, accounts, conversations, tracker, cfg),
		poller:        poller,
	}, nil
}

// newNotifier pushes availability over FCM when Firebase is configured and
// falls back to logging otherwise.
func newNotifier(ctx context.Context, cfg *config.Config, fcmTokenRepo authRepo.FCMTokenRepository) cooldownUsecase.Notifier {
	if cfg.FirebaseCredentials == "" {
		logger.Info("no Firebase credentials configured, availability push disabled")
		return notification.LogNotifier{}
	}
	client, err := fcm.NewClient(ctx, cfg.FirebaseCredentials)
	if err != nil {
		logger.Warn("failed to initialize FCM client, availability push disabled", zap.Error(err))
		return notification.LogNotifier{}
	}
	return notification.NewAvailabilityNotifier(fcmTokenRepo, client)
}

// startPushListener subscribes to Gmail push notifications. It is a no-op
// without a project and topic.
func (a *app) startPushListener(ctx context.Context) *notification.Service {
	if a.cfg.GoogleProjectID == "" || a.cfg.GooglePubSubTopic == "" {
		logger.Warn("Pub/Sub not configured, push-triggered polling disabled")
		return nil
	}

	// Extract short topic name from full resource name if necessary
	topicName := a.cfg.GooglePubSubTopic
	if parts := strings.Split(topicName, "/"); len(parts) > 1 {
		topicName = parts[len(parts)-1]
	}

	svc, err := notification.NewService(ctx, a.cfg.GoogleProjectID, topicName, a.cfg.GoogleCredentials, a.poller, 2*time.Minute)
	if err != nil {
		logger.Error("failed to initialize notification service", zap.Error(err))
		errtrack.CaptureError(err, map[string]string{"component": "pubsub"})
		return nil
	}
	go func() {
		if err := svc.Start(ctx); err != nil {
			logger.Error("notification service stopped", zap.Error(err))
			errtrack.CaptureError(err, map[string]string{"component": "pubsub"})
		}
	}()
	return svc
}

func (a *app) handler() *api.Handler {
	return api.NewHandler(api.Services{
		Auth:          a.auth,
		FCMTokens:     a.fcmRepo,
		Accounts:      a.accounts,
		Ledger:        a.ledger,
		Conversations: a.conversations,
		Tracker:       a.tracker,
		Sender:        a.sender,
		Poller:        a.poller,
	}, a.cfg)
}
