package repository

import (
	"errors"
	"time"

	"outreach-backend/internal/tracking/domain"

	"gorm.io/gorm"
)

// TrackingRepository persists tracking records
type TrackingRepository interface {
	Create(rec *domain.Record) error
	FindByToken(token string) (*domain.Record, error)
	FindByProviderMessageID(providerMessageID string) (*domain.Record, error)
	// Save writes rec if its version still matches the stored row and bumps
	// the version. It returns false when another writer won.
	Save(rec *domain.Record) (bool, error)
	CountSentSince(userID string, since time.Time) (int64, error)
	Stats(userID string) (*domain.Stats, error)
}

type trackingRepository struct {
	db *gorm.DB
}

func NewTrackingRepository(db *gorm.DB) TrackingRepository {
	return &trackingRepository{db: db}
}

func (r *trackingRepository) Create(rec *domain.Record) error {
	if rec.Version == 0 {
		rec.Version = 1
	}
	return r.db.Create(rec).Error
}

func (r *trackingRepository) FindByToken(token string) (*domain.Record, error) {
	var rec domain.Record
	err := r.db.Where("token = ?", token).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *trackingRepository) FindByProviderMessageID(providerMessageID string) (*domain.Record, error) {
	var rec domain.Record
	err := r.db.Where("provider_message_id = ?", providerMessageID).
		Order("sent_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *trackingRepository) Save(rec *domain.Record) (bool, error) {
	now := time.Now().UTC()
	result := r.db.Model(&domain.Record{}).
		Where("token = ? AND version = ?", rec.Token, rec.Version).
		Updates(map[string]interface{}{
			"delivered_at": rec.DeliveredAt,
			"opened_at":    rec.OpenedAt,
			"clicked_at":   rec.ClickedAt,
			"bounced_at":   rec.BouncedAt,
			"replied_at":   rec.RepliedAt,
			"status":       rec.Status,
			"open_count":   rec.OpenCount,
			"click_links":  rec.ClickLinks,
			"version":      rec.Version + 1,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	rec.Version++
	rec.UpdatedAt = now
	return true, nil
}

func (r *trackingRepository) CountSentSince(userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.Record{}).
		Where("user_id = ? AND sent_at >= ?", userID, since.UTC()).
		Count(&count).Error
	return count, err
}

// Stats counts a user's records by the milestones they reached.
func (r *trackingRepository) Stats(userID string) (*domain.Stats, error) {
	var stats domain.Stats
	err := r.db.Model(&domain.Record{}).
		Select("COUNT(*) AS total, COUNT(delivered_at) AS delivered, COUNT(opened_at) AS opened, " +
			"COUNT(clicked_at) AS clicked, COUNT(bounced_at) AS bounced, COUNT(replied_at) AS replied").
		Where("user_id = ?", userID).
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	stats.ComputeRates()
	return &stats, nil
}
