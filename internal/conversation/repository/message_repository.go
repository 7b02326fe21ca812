package repository

import (
	"errors"
	"time"

	"outreach-backend/internal/conversation/domain"
	"outreach-backend/pkg/database"
	"outreach-backend/pkg/mailcompose"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxAppendAttempts = 5
	previewLength     = 200
)

var errCounterMoved = errors.New("thread counter moved")

// MessageRepository persists thread messages and keeps thread counters in step
type MessageRepository interface {
	Append(threadID string, in *domain.NewMessage) (*domain.AppendResult, error)
	FindByProviderID(threadID, providerMessageID string) (*domain.Message, error)
	FindByID(id string) (*domain.Message, error)
	ListByThread(threadID string) ([]domain.Message, error)
	MarkLatestUserMessageReplied(threadID string) (*domain.Message, error)
	ApplyDeliveryState(providerMessageID string, state domain.DeliveryState) (int, error)
	ThreadHasProviderThread(threadID, providerThreadID string) (bool, error)
}

type messageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Append inserts a message with the next message number and bumps the
// thread counters in the same transaction. The counter update is a
// compare-and-swap on total_messages; losing the race rolls back and retries.
// A message whose provider id is already stored in the thread is reported as
// a duplicate, whether found up front or via the unique index.
func (r *messageRepository) Append(threadID string, in *domain.NewMessage) (*domain.AppendResult, error) {
	existing, err := r.FindByProviderID(threadID, in.ProviderMessageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.AppendResult{Message: existing, Duplicate: true}, nil
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		msg, err := r.tryAppend(threadID, in)
		switch {
		case err == nil:
			return &domain.AppendResult{Message: msg}, nil
		case errors.Is(err, errCounterMoved):
			continue
		case database.IsUniqueViolation(err):
			existing, ferr := r.FindByProviderID(threadID, in.ProviderMessageID)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return &domain.AppendResult{Message: existing, Duplicate: true}, nil
			}
			// message_number collision with a concurrent append
			continue
		default:
			return nil, err
		}
	}
	return nil, domain.ErrConflict
}

func (r *messageRepository) tryAppend(threadID string, in *domain.NewMessage) (*domain.Message, error) {
	now := r.now()
	sentAt := in.SentAt.UTC()
	if in.SentAt.IsZero() {
		sentAt = now
	}

	var msg *domain.Message
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var thread domain.Thread
		if err := tx.Where("id = ?", threadID).First(&thread).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrThreadNotFound
			}
			return err
		}
		n := thread.TotalMessages

		msg = &domain.Message{
			ID:                uuid.New().String(),
			ThreadID:          threadID,
			SenderType:        in.SenderType,
			Subject:           in.Subject,
			BodyPreview:       mailcompose.Preview(in.Body, previewLength),
			BodyFull:          in.Body,
			SentAt:            sentAt,
			MessageNumber:     n + 1,
			Status:            domain.StatusSent,
			ProviderMessageID: in.ProviderMessageID,
			ProviderThreadID:  in.ProviderThreadID,
			MessageIDHeader:   in.MessageIDHeader,
			InReplyTo:         in.InReplyTo,
			TrackingToken:     in.TrackingToken,
			CreatedAt:         now,
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"total_messages":   n + 1,
			"last_activity_at": latest(thread.LastActivityAt, sentAt),
			"updated_at":       now,
		}
		// placeholder timestamps from thread creation give way to the first message
		if n == 0 {
			updates["last_activity_at"] = sentAt
		}
		if n == 0 || sentAt.Before(thread.FirstContactAt) {
			updates["first_contact_at"] = sentAt
		}
		if in.Subject != "" {
			updates["subject_line"] = in.Subject
		}
		switch in.SenderType {
		case domain.SenderUser:
			updates["user_messages_count"] = gorm.Expr("user_messages_count + ?", 1)
			updates["last_user_message_at"] = latestPtr(thread.LastUserMessageAt, sentAt)
		case domain.SenderRecruiter:
			updates["recruiter_messages_count"] = gorm.Expr("recruiter_messages_count + ?", 1)
			updates["last_recruiter_message_at"] = latestPtr(thread.LastRecruiterMessageAt, sentAt)
			updates["status"] = domain.ThreadReplied
		}

		result := tx.Model(&domain.Thread{}).
			Where("id = ? AND total_messages = ?", threadID, n).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errCounterMoved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func latest(current, candidate time.Time) time.Time {
	if candidate.After(current) {
		return candidate
	}
	return current
}

func latestPtr(current *time.Time, candidate time.Time) time.Time {
	if current == nil {
		return candidate
	}
	return latest(*current, candidate)
}

func (r *messageRepository) FindByProviderID(threadID, providerMessageID string) (*domain.Message, error) {
	var m domain.Message
	err := r.db.Where("thread_id = ? AND provider_message_id = ?", threadID, providerMessageID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *messageRepository) FindByID(id string) (*domain.Message, error) {
	var m domain.Message
	err := r.db.Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *messageRepository) ListByThread(threadID string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := r.db.Where("thread_id = ?", threadID).Order("message_number ASC").Find(&msgs).Error
	return msgs, err
}

// MarkLatestUserMessageReplied flags the most recent outbound message as
// replied. It returns nil when the thread has no user message.
func (r *messageRepository) MarkLatestUserMessageReplied(threadID string) (*domain.Message, error) {
	var m domain.Message
	err := r.db.Where("thread_id = ? AND sender_type = ?", threadID, domain.SenderUser).
		Order("message_number DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := r.advanceMessage(&m, domain.DeliveryState{Status: domain.StatusReplied}); err != nil {
		return nil, err
	}
	return &m, nil
}

// ApplyDeliveryState copies a tracking update onto every message with the
// provider id. Timestamps are only set when still empty and status only
// moves forward. It returns the number of messages changed.
func (r *messageRepository) ApplyDeliveryState(providerMessageID string, state domain.DeliveryState) (int, error) {
	if providerMessageID == "" {
		return 0, nil
	}
	var msgs []domain.Message
	if err := r.db.Where("provider_message_id = ?", providerMessageID).Find(&msgs).Error; err != nil {
		return 0, err
	}

	changed := 0
	for i := range msgs {
		ok, err := r.advanceMessage(&msgs[i], state)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// advanceMessage applies state with a status compare-and-swap, reloading
// and retrying when another writer got there first.
func (r *messageRepository) advanceMessage(m *domain.Message, state domain.DeliveryState) (bool, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		updates := map[string]interface{}{}
		next := m.Status.Advance(state.Status)
		if next != m.Status {
			updates["status"] = next
		}
		if state.OpenedAt != nil && m.OpenedAt == nil {
			updates["opened_at"] = state.OpenedAt.UTC()
		}
		if state.ClickedAt != nil && m.ClickedAt == nil {
			updates["clicked_at"] = state.ClickedAt.UTC()
		}
		if len(updates) == 0 {
			return false, nil
		}

		query := r.db.Model(&domain.Message{}).Where("id = ? AND status = ?", m.ID, m.Status)
		if _, ok := updates["opened_at"]; ok {
			query = query.Where("opened_at IS NULL")
		}
		if _, ok := updates["clicked_at"]; ok {
			query = query.Where("clicked_at IS NULL")
		}
		result := query.Updates(updates)
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected > 0 {
			m.Status = next
			if v, ok := updates["opened_at"].(time.Time); ok {
				m.OpenedAt = &v
			}
			if v, ok := updates["clicked_at"].(time.Time); ok {
				m.ClickedAt = &v
			}
			return true, nil
		}

		if err := r.db.Where("id = ?", m.ID).First(m).Error; err != nil {
			return false, err
		}
	}
	return false, domain.ErrConflict
}

func (r *messageRepository) ThreadHasProviderThread(threadID, providerThreadID string) (bool, error) {
	if providerThreadID == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&domain.Message{}).
		Where("thread_id = ? AND (provider_thread_id = ? OR provider_message_id = ?)", threadID, providerThreadID, providerThreadID).
		Count(&count).Error
	return count > 0, err
}
