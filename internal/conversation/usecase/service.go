package usecase

import (
	"context"
	"fmt"
	"time"

	"outreach-backend/internal/conversation/domain"
	"outreach-backend/internal/conversation/repository"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailaddr"

	"go.uber.org/zap"
)

// ReplyObserver is told when a recruiter replies to a tracked message.
type ReplyObserver interface {
	MarkReplied(ctx context.Context, trackingToken string, at time.Time) error
}

// Service owns conversation threads and their ordered messages.
type Service struct {
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	replies  ReplyObserver
	now      func() time.Time
}

func NewService(threads repository.ThreadRepository, messages repository.MessageRepository) *Service {
	return &Service{
		threads:  threads,
		messages: messages,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetReplyObserver wires the delivery tracker after construction, since the
// tracker itself depends on this service.
func (s *Service) SetReplyObserver(o ReplyObserver) {
	s.replies = o
}

// GetOrCreateThread returns the user's thread with recruiterEmail, creating
// it with defaults on first contact.
func (s *Service) GetOrCreateThread(userID, recruiterEmail string, defaults domain.ThreadDefaults) (*domain.Thread, error) {
	email := mailaddr.Normalize(recruiterEmail)
	existing, err := s.threads.FindByRecruiter(userID, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now()
	thread, err := s.threads.CreateIfAbsent(&domain.Thread{
		UserID:         userID,
		RecruiterEmail: email,
		RecruiterName:  defaults.RecruiterName,
		CompanyName:    defaults.CompanyName,
		SubjectLine:    defaults.SubjectLine,
		Status:         domain.ThreadActive,
		FirstContactAt: now,
		LastActivityAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// FindThread looks a thread up without creating it. It returns nil when none exists.
func (s *Service) FindThread(userID, recruiterEmail string) (*domain.Thread, error) {
	return s.threads.FindByRecruiter(userID, mailaddr.Normalize(recruiterEmail))
}

// AppendMessage records a message in the thread. Duplicates by provider
// message id are reported, not inserted. A new recruiter message marks the
// latest user message (and its tracking record) as replied.
func (s *Service) AppendMessage(ctx context.Context, threadID string, in *domain.NewMessage) (*domain.AppendResult, error) {
	if !in.SenderType.Valid() || in.ProviderMessageID == "" {
		return nil, domain.ErrInvalidMessage
	}

	result, err := s.messages.Append(threadID, in)
	if err != nil {
		return nil, err
	}
	if result.Duplicate || in.SenderType != domain.SenderRecruiter {
		return result, nil
	}

	replied, err := s.messages.MarkLatestUserMessageReplied(threadID)
	if err != nil {
		logger.Warn("failed to mark user message replied", zap.String("thread_id", threadID), zap.Error(err))
		return result, nil
	}
	if replied != nil && replied.TrackingToken != "" && s.replies != nil {
		if err := s.replies.MarkReplied(ctx, replied.TrackingToken, result.Message.SentAt); err != nil {
			logger.Warn("failed to mark tracking record replied",
				zap.String("tracking_token", replied.TrackingToken), zap.Error(err))
		}
	}
	return result, nil
}

// ApplyDeliveryState forwards a tracking update to the matching messages.
func (s *Service) ApplyDeliveryState(providerMessageID string, state domain.DeliveryState) (int, error) {
	return s.messages.ApplyDeliveryState(providerMessageID, state)
}

// ThreadHasProviderThread reports whether any message of the thread belongs
// to the given provider-side thread.
func (s *Service) ThreadHasProviderThread(threadID, providerThreadID string) (bool, error) {
	return s.messages.ThreadHasProviderThread(threadID, providerThreadID)
}

// LastMessage returns the newest message in the thread, or nil.
func (s *Service) LastMessage(threadID string) (*domain.Message, error) {
	msgs, err := s.messages.ListByThread(threadID)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[len(msgs)-1], nil
}

func (s *Service) ListThreads(userID string, status domain.ThreadStatus, limit, offset int) ([]domain.Thread, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.threads.ListByUser(userID, status, limit, offset)
}

// GetThread returns a thread owned by userID.
func (s *Service) GetThread(userID, threadID string) (*domain.Thread, error) {
	t, err := s.threads.FindByID(threadID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.UserID != userID {
		return nil, domain.ErrThreadNotFound
	}
	return t, nil
}

func (s *Service) ListMessages(userID, threadID string) ([]domain.Message, error) {
	if _, err := s.GetThread(userID, threadID); err != nil {
		return nil, err
	}
	return s.messages.ListByThread(threadID)
}

func (s *Service) ArchiveThread(userID, threadID string) error {
	if _, err := s.GetThread(userID, threadID); err != nil {
		return err
	}
	return s.threads.UpdateStatus(threadID, domain.ThreadArchived)
}
