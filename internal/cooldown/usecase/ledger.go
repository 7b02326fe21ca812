package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach-backend/internal/cooldown/domain"
	"outreach-backend/internal/cooldown/repository"
	"outreach-backend/pkg/config"
	"outreach-backend/pkg/errtrack"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailaddr"
	"outreach-backend/pkg/metrics"

	"go.uber.org/zap"
)

// Notifier tells a user that recruiters are reachable again.
type Notifier interface {
	NotifyAvailable(ctx context.Context, userID string, recipients []string) error
}

// Ledger gates sends per (user, recipient) and expires old cooldowns.
type Ledger struct {
	repo        repository.CooldownRepository
	notifier    Notifier
	defaultDays int
	window      time.Duration
	retention   time.Duration
	now         func() time.Time
}

func NewLedger(repo repository.CooldownRepository, notifier Notifier, cfg *config.Config) *Ledger {
	return &Ledger{
		repo:        repo,
		notifier:    notifier,
		defaultDays: cfg.CooldownDays,
		window:      cfg.AvailabilityWindow,
		retention:   cfg.CooldownRetention,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Check reports whether userID may send to recipient now.
func (l *Ledger) Check(userID, recipient string) (*domain.Decision, error) {
	c, err := l.repo.Find(userID, mailaddr.Normalize(recipient))
	if err != nil {
		return nil, fmt.Errorf("cooldown check: %w", err)
	}
	now := l.now()
	if c == nil || !c.Active(now) {
		d := &domain.Decision{Allowed: true}
		if c != nil {
			d.EmailCount = c.EmailCount
		}
		return d, nil
	}
	return &domain.Decision{
		Allowed:       false,
		DaysRemaining: domain.DaysRemaining(c.BlockedUntil, now),
		BlockedUntil:  c.BlockedUntil,
		EmailCount:    c.EmailCount,
	}, nil
}

// Commit starts or extends the cooldown after an accepted send. A
// non-positive cooldownDays uses the configured default.
func (l *Ledger) Commit(userID, recipient string, cooldownDays int) (*domain.Cooldown, error) {
	if cooldownDays <= 0 {
		cooldownDays = l.defaultDays
	}
	now := l.now()
	blockedUntil := now.Add(time.Duration(cooldownDays) * 24 * time.Hour)
	c, err := l.repo.Commit(userID, mailaddr.Normalize(recipient), blockedUntil, now)
	if err != nil {
		return nil, fmt.Errorf("cooldown commit: %w", err)
	}
	return c, nil
}

// ListActive returns the user's cooldowns that still block sends.
func (l *Ledger) ListActive(userID string) ([]domain.Cooldown, error) {
	return l.repo.ListActiveByUser(userID, l.now())
}

// Sweep notifies users about cooldowns that expired within the availability
// window (one notification per user) and deletes cooldowns expired longer
// than the retention period. Each expiry is announced once: delivered
// batches, and users with no channel, are marked notified. Failed batches
// stay pending for the next sweep. Per-user failures never stop the batch;
// deletion always runs.
func (l *Ledger) Sweep(ctx context.Context) (*domain.SweepResult, error) {
	now := l.now()
	result := &domain.SweepResult{}
	var errs []error

	expired, err := l.repo.ListExpiredBetween(now.Add(-l.window), now)
	if err != nil {
		logger.Error("cooldown sweep: list recently expired", zap.Error(err))
		errs = append(errs, err)
	}
	result.RecentlyExpiredCount = len(expired)

	for _, batch := range groupByUser(expired) {
		if l.notifier == nil {
			break
		}
		err := l.notifier.NotifyAvailable(ctx, batch.userID, batch.recipients)
		switch {
		case err == nil:
			result.NotificationsSent++
			errs = append(errs, l.markNotified(batch, now))
		case errors.Is(err, domain.ErrNoNotificationChannel):
			logger.Debug("cooldown sweep: no channel for user", zap.String("user_id", batch.userID))
			errs = append(errs, l.markNotified(batch, now))
		default:
			logger.Error("cooldown sweep: notify user",
				zap.String("user_id", batch.userID),
				zap.Int("recipients", len(batch.recipients)),
				zap.Error(err))
			errtrack.CaptureError(err, map[string]string{"component": "cooldown_sweep"})
		}
	}

	deleted, err := l.repo.DeleteExpiredBefore(now.Add(-l.retention))
	if err != nil {
		logger.Error("cooldown sweep: delete expired", zap.Error(err))
		errs = append(errs, err)
	}
	result.DeletedCount = deleted

	metrics.RecordSweep(result.RecentlyExpiredCount, result.NotificationsSent, result.DeletedCount)
	logger.Info("cooldown sweep finished",
		zap.Int("recently_expired", result.RecentlyExpiredCount),
		zap.Int("notifications_sent", result.NotificationsSent),
		zap.Int64("deleted", result.DeletedCount))

	return result, errors.Join(errs...)
}

func (l *Ledger) markNotified(batch userBatch, now time.Time) error {
	if err := l.repo.MarkNotified(batch.ids, now); err != nil {
		logger.Error("cooldown sweep: mark notified", zap.String("user_id", batch.userID), zap.Error(err))
		return err
	}
	return nil
}

type userBatch struct {
	userID     string
	ids        []string
	recipients []string
}

// groupByUser keeps first-seen user order.
func groupByUser(cooldowns []domain.Cooldown) []userBatch {
	index := make(map[string]int)
	var batches []userBatch
	for _, c := range cooldowns {
		i, ok := index[c.UserID]
		if !ok {
			i = len(batches)
			index[c.UserID] = i
			batches = append(batches, userBatch{userID: c.UserID})
		}
		batches[i].ids = append(batches[i].ids, c.ID)
		batches[i].recipients = append(batches[i].recipients, c.RecruiterEmail)
	}
	return batches
}
