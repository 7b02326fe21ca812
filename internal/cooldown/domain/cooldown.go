package domain

import (
	"errors"
	"math"
	"time"
)

// ErrNoNotificationChannel is returned by a notifier that has nowhere to
// deliver to for a user (no device tokens). The sweep counts it as unsent,
// not as a failure.
var ErrNoNotificationChannel = errors.New("no notification channel for user")

// Cooldown blocks new outreach from a user to one recruiter address until
// BlockedUntil. RecruiterEmail is stored lower-cased. NotifiedAt is set once
// the user was told the recruiter is available again and cleared on the next
// commit.
type Cooldown struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	UserID         string     `json:"user_id" gorm:"not null;uniqueIndex:idx_cooldown_user_recipient"`
	RecruiterEmail string     `json:"recruiter_email" gorm:"not null;uniqueIndex:idx_cooldown_user_recipient"`
	BlockedUntil   time.Time  `json:"blocked_until" gorm:"not null;index"`
	EmailCount     int        `json:"email_count" gorm:"not null;default:0"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Cooldown) TableName() string {
	return "cooldowns"
}

// Active reports whether the cooldown still blocks sends at now.
func (c *Cooldown) Active(now time.Time) bool {
	return now.Before(c.BlockedUntil)
}

// Decision is the result of a cooldown check.
type Decision struct {
	Allowed       bool      `json:"allowed"`
	DaysRemaining int       `json:"days_remaining,omitempty"`
	BlockedUntil  time.Time `json:"blocked_until,omitempty"`
	EmailCount    int       `json:"email_count,omitempty"`
}

// DaysRemaining rounds the time left up to whole days, so any partial day
// counts as one.
func DaysRemaining(blockedUntil, now time.Time) int {
	left := blockedUntil.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	RecentlyExpiredCount int   `json:"recently_expired_count"`
	NotificationsSent    int   `json:"notifications_sent"`
	DeletedCount         int64 `json:"deleted_count"`
}
