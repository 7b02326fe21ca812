package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	convdomain "outreach-backend/internal/conversation/domain"
	cooldowndomain "outreach-backend/internal/cooldown/domain"
	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/internal/outreach/domain"
	trackingdomain "outreach-backend/internal/tracking/domain"
	"outreach-backend/pkg/config"
	"outreach-backend/pkg/errtrack"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailaddr"
	"outreach-backend/pkg/mailcompose"
	"outreach-backend/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CooldownGate interface {
	Check(userID, recipient string) (*cooldowndomain.Decision, error)
	Commit(userID, recipient string, cooldownDays int) (*cooldowndomain.Cooldown, error)
}

type Accounts interface {
	AccountForUser(userID string) (*mailboxdomain.Account, error)
	Provider(ctx context.Context, account *mailboxdomain.Account) (mailboxdomain.Provider, error)
}

type Conversations interface {
	FindThread(userID, recruiterEmail string) (*convdomain.Thread, error)
	GetOrCreateThread(userID, recruiterEmail string, defaults convdomain.ThreadDefaults) (*convdomain.Thread, error)
	LastMessage(threadID string) (*convdomain.Message, error)
	AppendMessage(ctx context.Context, threadID string, in *convdomain.NewMessage) (*convdomain.AppendResult, error)
}

type Tracking interface {
	CreateRecord(ctx context.Context, in *trackingdomain.NewRecord) (*trackingdomain.Record, error)
	CountSentSince(userID string, since time.Time) (int64, error)
}

// Sender runs the outbound path: policy checks, compose, send, record.
type Sender struct {
	cooldowns     CooldownGate
	accounts      Accounts
	conversations Conversations
	tracking      Tracking
	cfg           *config.Config
	now           func() time.Time
}

func NewSender(cooldowns CooldownGate, accounts Accounts, conversations Conversations, tracking Tracking, cfg *config.Config) *Sender {
	return &Sender{
		cooldowns:     cooldowns,
		accounts:      accounts,
		conversations: conversations,
		tracking:      tracking,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers req through the user's mailbox. The cooldown is committed
// only after the provider accepted the message and it was recorded in the
// thread; a failed send leaves no cooldown behind.
func (s *Sender) Send(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	res, err := s.send(ctx, req)
	metrics.RecordSend(sendOutcome(err))
	return res, err
}

func (s *Sender) send(ctx context.Context, req *domain.SendRequest) (*domain.SendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	recipient, name, err := mailaddr.Parse(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient must be a valid email address", domain.ErrInvalidRequest)
	}
	if req.RecruiterName == "" {
		req.RecruiterName = name
	}

	decision, err := s.cooldowns.Check(req.UserID, recipient)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &domain.CooldownError{
			Recipient:     recipient,
			DaysRemaining: decision.DaysRemaining,
			BlockedUntil:  decision.BlockedUntil,
		}
	}

	account, err := s.accounts.AccountForUser(req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDailyLimit(account); err != nil {
		return nil, err
	}

	// The thread is only created once the provider accepted the message.
	existing, err := s.conversations.FindThread(req.UserID, recipient)
	if err != nil {
		return nil, err
	}

	token := uuid.New().String()
	out := s.compose(account, recipient, req, token)
	if existing != nil {
		if err := s.applyFollowUp(existing.ID, out); err != nil {
			return nil, err
		}
	}

	provider, err := s.accounts.Provider(ctx, account)
	if err != nil {
		return nil, err
	}
	sendCtx := ctx
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}
	sent, err := provider.Send(sendCtx, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	sentAt := s.now()

	thread, err := s.conversations.GetOrCreateThread(req.UserID, recipient, convdomain.ThreadDefaults{
		RecruiterName: req.RecruiterName,
		CompanyName:   req.CompanyName,
		SubjectLine:   req.Subject,
	})
	if err != nil {
		logger.Error("message sent but thread not created",
			zap.String("user_id", req.UserID),
			zap.String("provider_message_id", sent.ProviderMessageID),
			zap.Error(err))
		errtrack.CaptureError(err, map[string]string{"stage": "create_thread"})
		return nil, fmt.Errorf("record sent message: %w", err)
	}

	appended, err := s.conversations.AppendMessage(ctx, thread.ID, &convdomain.NewMessage{
		SenderType:        convdomain.SenderUser,
		Subject:           req.Subject,
		Body:              req.Body,
		SentAt:            sentAt,
		ProviderMessageID: sent.ProviderMessageID,
		ProviderThreadID:  sent.ProviderThreadID,
		MessageIDHeader:   sent.MessageIDHeader,
		InReplyTo:         out.InReplyTo,
		TrackingToken:     token,
	})
	if err != nil {
		logger.Error("message sent but not recorded",
			zap.String("user_id", req.UserID),
			zap.String("provider_message_id", sent.ProviderMessageID),
			zap.Error(err))
		errtrack.CaptureError(err, map[string]string{"stage": "append_message"})
		return nil, fmt.Errorf("record sent message: %w", err)
	}

	if _, err := s.tracking.CreateRecord(ctx, &trackingdomain.NewRecord{
		Token:             token,
		UserID:            req.UserID,
		ThreadID:          thread.ID,
		ProviderMessageID: sent.ProviderMessageID,
		Recipient:         recipient,
		Subject:           req.Subject,
		SentAt:            sentAt,
	}); err != nil {
		logger.Warn("failed to create tracking record", zap.String("tracking_token", token), zap.Error(err))
	}

	if _, err := s.cooldowns.Commit(req.UserID, recipient, s.cfg.CooldownDays); err != nil {
		logger.Error("failed to commit cooldown",
			zap.String("user_id", req.UserID),
			zap.String("recipient", recipient),
			zap.Error(err))
		errtrack.CaptureError(err, map[string]string{"stage": "cooldown_commit"})
	}

	logger.Info("outreach email sent",
		zap.String("user_id", req.UserID),
		zap.String("thread_id", thread.ID),
		zap.Int("message_number", appended.Message.MessageNumber))

	return &domain.SendResult{
		TrackingToken:     token,
		ProviderMessageID: sent.ProviderMessageID,
		ThreadID:          thread.ID,
		MessageNumber:     appended.Message.MessageNumber,
	}, nil
}

func (s *Sender) checkDailyLimit(account *mailboxdomain.Account) error {
	limit := s.cfg.DailySendLimit
	if account.DailySendLimit > 0 {
		limit = account.DailySendLimit
	}
	if limit <= 0 {
		return nil
	}
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sent, err := s.tracking.CountSentSince(account.UserID, midnight)
	if err != nil {
		return err
	}
	if sent >= int64(limit) {
		return &domain.DailyLimitError{Limit: limit, SentToday: sent}
	}
	return nil
}

func (s *Sender) compose(account *mailboxdomain.Account, recipient string, req *domain.SendRequest, token string) *mailboxdomain.OutboundMessage {
	html := mailcompose.ToHTML(req.Body)
	if s.cfg.PublicBaseURL != "" {
		html = mailcompose.InjectTracking(html, s.cfg.PublicBaseURL, s.cfg.TrackingSecret, token)
	}
	text := req.Body
	if mailcompose.IsHTML(text) {
		text = mailcompose.ToText(text)
	}
	return &mailboxdomain.OutboundMessage{
		FromName:  account.Name,
		FromEmail: account.Email,
		To:        recipient,
		Subject:   req.Subject,
		HTML:      html,
		Text:      text,
	}
}

// applyFollowUp threads a send onto the previous message of an existing
// conversation.
func (s *Sender) applyFollowUp(threadID string, out *mailboxdomain.OutboundMessage) error {
	last, err := s.conversations.LastMessage(threadID)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}
	out.ProviderThreadID = last.ProviderThreadID
	if last.MessageIDHeader != "" {
		out.InReplyTo = last.MessageIDHeader
		out.References = []string{last.MessageIDHeader}
	}
	return nil
}

func sendOutcome(err error) string {
	var (
		cooldownErr *domain.CooldownError
		limitErr    *domain.DailyLimitError
	)
	switch {
	case err == nil:
		return "sent"
	case errors.As(err, &cooldownErr):
		return "cooldown"
	case errors.As(err, &limitErr):
		return "daily_limit"
	case errors.Is(err, domain.ErrProvider):
		return "provider_error"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	default:
		return "failed"
	}
}
