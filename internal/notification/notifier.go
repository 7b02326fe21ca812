package notification

import (
	"context"
	"fmt"
	"strings"

	authrepo "outreach-backend/internal/auth/repository"
	cooldowndomain "outreach-backend/internal/cooldown/domain"
	"outreach-backend/pkg/fcm"
	"outreach-backend/pkg/logger"

	"go.uber.org/zap"
)

const maxListedRecipients = 3

// PushSender delivers one notification to a set of device tokens and
// returns the tokens that were rejected.
type PushSender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

// AvailabilityNotifier tells users over FCM that recruiters are reachable again.
type AvailabilityNotifier struct {
	fcmRepo authrepo.FCMTokenRepository
	push    PushSender
}

func NewAvailabilityNotifier(fcmRepo authrepo.FCMTokenRepository, push PushSender) *AvailabilityNotifier {
	return &AvailabilityNotifier{fcmRepo: fcmRepo, push: push}
}

// NotifyAvailable sends one batched notification for all recipients.
// Users without a registered device get ErrNoNotificationChannel.
func (n *AvailabilityNotifier) NotifyAvailable(ctx context.Context, userID string, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	tokens, err := n.fcmRepo.GetTokensByUserID(userID)
	if err != nil {
		return fmt.Errorf("load fcm tokens: %w", err)
	}
	if len(tokens) == 0 {
		return cooldowndomain.ErrNoNotificationChannel
	}
	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	title, body := availabilityMessage(recipients)
	failed, err := n.push.SendToDevices(ctx, tokenStrings, fcm.NotificationData{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":       "cooldown_expired",
			"recipients": strings.Join(recipients, ","),
		},
		ClickAction: "/compose",
	})
	if len(failed) > 0 {
		if perr := n.fcmRepo.PruneTokens(failed); perr != nil {
			logger.Warn("failed to prune fcm tokens", zap.String("user_id", userID), zap.Error(perr))
		}
	}
	if err != nil {
		return err
	}
	if len(failed) == len(tokenStrings) {
		return fmt.Errorf("no device accepted the notification for user %s", userID)
	}
	return nil
}

func availabilityMessage(recipients []string) (title, body string) {
	if len(recipients) == 1 {
		return "Recruiter available again", fmt.Sprintf("You can contact %s again.", recipients[0])
	}
	title = fmt.Sprintf("%d recruiters available again", len(recipients))
	listed := recipients
	if len(listed) > maxListedRecipients {
		listed = listed[:maxListedRecipients]
	}
	body = "You can contact " + strings.Join(listed, ", ")
	if extra := len(recipients) - len(listed); extra > 0 {
		body += fmt.Sprintf(" and %d more", extra)
	}
	return title, body + " again."
}

// LogNotifier only logs availability; used when FCM is not configured.
type LogNotifier struct{}

func (LogNotifier) NotifyAvailable(_ context.Context, userID string, recipients []string) error {
	logger.Info("recruiters available again",
		zap.String("user_id", userID),
		zap.Strings("recipients", recipients))
	return cooldowndomain.ErrNoNotificationChannel
}
