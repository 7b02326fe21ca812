package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	inbounddomain "outreach-backend/internal/inbound/domain"
	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailaddr"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on a mailbox change.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// AccountPoller runs the inbound reconciliation for one mailbox.
type AccountPoller interface {
	PollEmail(ctx context.Context, email string) (inbounddomain.Summary, error)
}

// Service listens for Gmail push notifications and polls the changed
// mailbox right away. Scheduled polling stays the source of truth.
type Service struct {
	pubsubClient *pubsub.Client
	poller       AccountPoller
	topicName    string
	subName      string
	pollTimeout  time.Duration

	mu sync.Mutex
	// lastHistoryID dedups notifications per mailbox
	lastHistoryID map[string]uint64
}

func NewService(ctx context.Context, projectID, topicName, credentialsFile string, poller AccountPoller, pollTimeout time.Duration) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	s := newService(poller, topicName, pollTimeout)
	s.pubsubClient = client
	return s, nil
}

func newService(poller AccountPoller, topicName string, pollTimeout time.Duration) *Service {
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Minute
	}
	return &Service{
		poller:        poller,
		topicName:     topicName,
		subName:       topicName + "-sub", // Convention: topic-sub
		pollTimeout:   pollTimeout,
		lastHistoryID: make(map[string]uint64),
	}
}

// Start blocks receiving notifications until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	logger.Info("starting gmail push listener",
		zap.String("topic", s.topicName),
		zap.String("subscription", s.subName))

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.HandleMessage(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", s.subName, err)
	}
	logger.Info("created pubsub subscription", zap.String("subscription", s.subName))
	return sub, nil
}

// HandleMessage decodes one notification and polls the mailbox it names.
// It reports whether a poll was started.
func (s *Service) HandleMessage(ctx context.Context, data []byte) bool {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		logger.Warn("ignoring malformed gmail notification", zap.Error(err))
		return false
	}
	email := mailaddr.Normalize(n.EmailAddress)
	if email == "" {
		return false
	}
	if !s.advance(email, n.HistoryID) {
		logger.Debug("skipping duplicate gmail notification",
			zap.String("email", email),
			zap.Uint64("history_id", n.HistoryID))
		return false
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()
	summary, err := s.poller.PollEmail(pollCtx, email)
	if err != nil {
		if errors.Is(err, mailboxdomain.ErrNotConnected) {
			logger.Debug("gmail notification for unknown mailbox", zap.String("email", email))
		} else {
			logger.Warn("push-triggered poll failed", zap.String("email", email), zap.Error(err))
		}
		return true
	}
	logger.Info("push-triggered poll finished",
		zap.String("email", email),
		zap.Uint64("history_id", n.HistoryID),
		zap.Int("processed", summary.Processed))
	return true
}

// advance records historyID for the mailbox unless an equal or newer one
// was already handled.
func (s *Service) advance(email string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[email]; ok && historyID <= last {
		return false
	}
	s.lastHistoryID[email] = historyID
	return true
}

func (s *Service) Close() error {
	if s.pubsubClient == nil {
		return nil
	}
	return s.pubsubClient.Close()
}
