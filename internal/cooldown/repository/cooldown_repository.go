package repository

import (
	"errors"
	"fmt"
	"time"

	"outreach-backend/internal/cooldown/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CooldownRepository persists per-recipient cooldowns
type CooldownRepository interface {
	Find(userID, recruiterEmail string) (*domain.Cooldown, error)
	Commit(userID, recruiterEmail string, blockedUntil, now time.Time) (*domain.Cooldown, error)
	ListActiveByUser(userID string, now time.Time) ([]domain.Cooldown, error)
	ListExpiredBetween(from, to time.Time) ([]domain.Cooldown, error)
	MarkNotified(ids []string, at time.Time) error
	DeleteExpiredBefore(cutoff time.Time) (int64, error)
}

type cooldownRepository struct {
	db *gorm.DB
}

func NewCooldownRepository(db *gorm.DB) CooldownRepository {
	return &cooldownRepository{db: db}
}

func (r *cooldownRepository) Find(userID, recruiterEmail string) (*domain.Cooldown, error) {
	var c domain.Cooldown
	err := r.db.Where("user_id = ? AND recruiter_email = ?", userID, recruiterEmail).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Commit extends an existing cooldown (count+1) or creates it with count 1.
// The extend is a single UPDATE so concurrent commits never lose a count;
// when no row exists the insert uses ON CONFLICT DO NOTHING and a lost race
// falls back to the extend.
func (r *cooldownRepository) Commit(userID, recruiterEmail string, blockedUntil, now time.Time) (*domain.Cooldown, error) {
	blockedUntil, now = blockedUntil.UTC(), now.UTC()

	for attempt := 0; attempt < 3; attempt++ {
		extended, err := r.extend(userID, recruiterEmail, blockedUntil, now)
		if err != nil {
			return nil, err
		}
		if extended {
			return r.Find(userID, recruiterEmail)
		}

		c := &domain.Cooldown{
			ID:             uuid.New().String(),
			UserID:         userID,
			RecruiterEmail: recruiterEmail,
			BlockedUntil:   blockedUntil,
			EmailCount:     1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		result := r.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "recruiter_email"}},
			DoNothing: true,
		}).Create(c)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			return c, nil
		}
	}
	return nil, fmt.Errorf("cooldown commit for %s: too much contention", recruiterEmail)
}

func (r *cooldownRepository) extend(userID, recruiterEmail string, blockedUntil, now time.Time) (bool, error) {
	result := r.db.Model(&domain.Cooldown{}).
		Where("user_id = ? AND recruiter_email = ?", userID, recruiterEmail).
		Updates(map[string]interface{}{
			"blocked_until": blockedUntil,
			"email_count":   gorm.Expr("email_count + ?", 1),
			"notified_at":   nil,
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *cooldownRepository) ListActiveByUser(userID string, now time.Time) ([]domain.Cooldown, error) {
	var out []domain.Cooldown
	err := r.db.Where("user_id = ? AND blocked_until > ?", userID, now.UTC()).
		Order("blocked_until ASC").
		Find(&out).Error
	return out, err
}

// ListExpiredBetween returns not yet notified cooldowns with
// from <= blocked_until < to, ordered by user so callers can batch per user.
func (r *cooldownRepository) ListExpiredBetween(from, to time.Time) ([]domain.Cooldown, error) {
	var out []domain.Cooldown
	err := r.db.Where("blocked_until >= ? AND blocked_until < ? AND notified_at IS NULL", from.UTC(), to.UTC()).
		Order("user_id ASC, blocked_until ASC").
		Find(&out).Error
	return out, err
}

// MarkNotified stamps notified_at on still-expired cooldowns. A cooldown
// re-committed since it was listed keeps notified_at empty.
func (r *cooldownRepository) MarkNotified(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	at = at.UTC()
	return r.db.Model(&domain.Cooldown{}).
		Where("id IN ? AND blocked_until <= ? AND notified_at IS NULL", ids, at).
		Update("notified_at", at).Error
}

func (r *cooldownRepository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("blocked_until < ?", cutoff.UTC()).Delete(&domain.Cooldown{})
	return result.RowsAffected, result.Error
}
