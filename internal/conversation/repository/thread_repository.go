package repository

import (
	"errors"
	"time"

	"outreach-backend/internal/conversation/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ThreadRepository persists conversation threads
type ThreadRepository interface {
	CreateIfAbsent(thread *domain.Thread) (*domain.Thread, error)
	FindByRecruiter(userID, recruiterEmail string) (*domain.Thread, error)
	FindByID(id string) (*domain.Thread, error)
	ListByUser(userID string, status domain.ThreadStatus, limit, offset int) ([]domain.Thread, int64, error)
	UpdateStatus(id string, status domain.ThreadStatus) error
}

type threadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

// CreateIfAbsent inserts the thread unless one already exists for the same
// (user, recruiter) and returns the stored row either way.
func (r *threadRepository) CreateIfAbsent(thread *domain.Thread) (*domain.Thread, error) {
	if thread.ID == "" {
		thread.ID = uuid.New().String()
	}
	if thread.Status == "" {
		thread.Status = domain.ThreadActive
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "recruiter_email"}},
		DoNothing: true,
	}).Create(thread).Error
	if err != nil {
		return nil, err
	}

	stored, err := r.FindByRecruiter(thread.UserID, thread.RecruiterEmail)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrThreadNotFound
	}
	return stored, nil
}

func (r *threadRepository) FindByRecruiter(userID, recruiterEmail string) (*domain.Thread, error) {
	var t domain.Thread
	err := r.db.Where("user_id = ? AND recruiter_email = ?", userID, recruiterEmail).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *threadRepository) FindByID(id string) (*domain.Thread, error) {
	var t domain.Thread
	err := r.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListByUser pages through a user's threads, most recent activity first.
// An empty status lists every status.
func (r *threadRepository) ListByUser(userID string, status domain.ThreadStatus, limit, offset int) ([]domain.Thread, int64, error) {
	query := r.db.Model(&domain.Thread{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var threads []domain.Thread
	err := query.Order("last_activity_at DESC").Order("id ASC").
		Limit(limit).Offset(offset).
		Find(&threads).Error
	if err != nil {
		return nil, 0, err
	}
	return threads, total, nil
}

func (r *threadRepository) UpdateStatus(id string, status domain.ThreadStatus) error {
	result := r.db.Model(&domain.Thread{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrThreadNotFound
	}
	return nil
}
