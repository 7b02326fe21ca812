package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	convdomain "outreach-backend/internal/conversation/domain"
	"outreach-backend/internal/tracking/domain"
	"outreach-backend/internal/tracking/repository"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailaddr"
	"outreach-backend/pkg/metrics"

	"go.uber.org/zap"
)

const maxSaveAttempts = 5

// MessageStateSink receives tracking updates for the matching conversation messages.
type MessageStateSink interface {
	ApplyDeliveryState(providerMessageID string, state convdomain.DeliveryState) (int, error)
}

// Tracker owns tracking records and their event state machine.
type Tracker struct {
	repo repository.TrackingRepository
	sink MessageStateSink
	now  func() time.Time
}

func NewTracker(repo repository.TrackingRepository, sink MessageStateSink) *Tracker {
	return &Tracker{
		repo: repo,
		sink: sink,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRecord stores the record for a send the provider accepted.
func (t *Tracker) CreateRecord(ctx context.Context, in *domain.NewRecord) (*domain.Record, error) {
	sentAt := in.SentAt.UTC()
	if in.SentAt.IsZero() {
		sentAt = t.now()
	}
	recipient := mailaddr.Normalize(in.Recipient)
	rec := &domain.Record{
		Token:             in.Token,
		UserID:            in.UserID,
		ThreadID:          in.ThreadID,
		ProviderMessageID: in.ProviderMessageID,
		Recipient:         recipient,
		Domain:            mailaddr.Domain(recipient),
		Subject:           in.Subject,
		SentAt:            sentAt,
		Status:            domain.StatusSent,
		ClickLinks:        []domain.ClickLink{},
		Version:           1,
	}
	if err := t.repo.Create(rec); err != nil {
		return nil, fmt.Errorf("create tracking record: %w", err)
	}
	return rec, nil
}

// RecordOpen handles a pixel hit.
func (t *Tracker) RecordOpen(ctx context.Context, token string) (*domain.Record, error) {
	return t.Apply(ctx, domain.Event{Type: domain.EventOpened, Token: token, Source: domain.SourcePixel})
}

// RecordClick handles a tracked link hit. Every click is recorded.
func (t *Tracker) RecordClick(ctx context.Context, token, url string) (*domain.Record, error) {
	return t.Apply(ctx, domain.Event{Type: domain.EventClicked, Token: token, URL: url, Source: domain.SourcePixel})
}

// Apply folds ev into its record with an optimistic version check and then
// copies the resulting state onto the conversation message.
func (t *Tracker) Apply(ctx context.Context, ev domain.Event) (*domain.Record, error) {
	if ev.At.IsZero() {
		ev.At = t.now()
	}

	rec, err := t.load(ev)
	if err != nil {
		return nil, err
	}

	applied := false
	for attempt := 0; ; attempt++ {
		if attempt == maxSaveAttempts {
			return nil, domain.ErrConflict
		}
		if !rec.Apply(ev) {
			break
		}
		ok, err := t.repo.Save(rec)
		if err != nil {
			return nil, fmt.Errorf("save tracking record: %w", err)
		}
		if ok {
			applied = true
			break
		}
		if rec, err = t.repo.FindByToken(rec.Token); err != nil {
			return nil, err
		} else if rec == nil {
			return nil, domain.ErrRecordNotFound
		}
	}
	metrics.RecordTrackingEvent(string(ev.Type), ev.Source, applied)

	if applied {
		t.propagate(rec)
	}
	return rec, nil
}

func (t *Tracker) load(ev domain.Event) (*domain.Record, error) {
	var (
		rec *domain.Record
		err error
	)
	switch {
	case ev.Token != "":
		rec, err = t.repo.FindByToken(ev.Token)
	case ev.ProviderMessageID != "":
		rec, err = t.repo.FindByProviderMessageID(ev.ProviderMessageID)
	default:
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrRecordNotFound
	}
	return rec, nil
}

func (t *Tracker) propagate(rec *domain.Record) {
	if t.sink == nil || rec.ProviderMessageID == "" {
		return
	}
	state := convdomain.DeliveryState{
		Status:    convdomain.MessageStatus(rec.Status),
		OpenedAt:  rec.OpenedAt,
		ClickedAt: rec.ClickedAt,
	}
	if _, err := t.sink.ApplyDeliveryState(rec.ProviderMessageID, state); err != nil {
		logger.Warn("failed to propagate tracking state to message",
			zap.String("tracking_token", rec.Token),
			zap.String("provider_message_id", rec.ProviderMessageID),
			zap.Error(err))
	}
}

// MarkReplied stamps replied_at on the record the first time a reply is seen.
// Status is left alone.
func (t *Tracker) MarkReplied(ctx context.Context, token string, at time.Time) error {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		rec, err := t.repo.FindByToken(token)
		if err != nil {
			return err
		}
		if rec == nil {
			return domain.ErrRecordNotFound
		}
		if rec.RepliedAt != nil {
			return nil
		}
		at := at.UTC()
		rec.RepliedAt = &at
		ok, err := t.repo.Save(rec)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return domain.ErrConflict
}

// CountSentSince counts the user's tracked sends from since onwards.
func (t *Tracker) CountSentSince(userID string, since time.Time) (int64, error) {
	return t.repo.CountSentSince(userID, since)
}

func (t *Tracker) Stats(userID string) (*domain.Stats, error) {
	return t.repo.Stats(userID)
}

// Get returns a record owned by userID.
func (t *Tracker) Get(userID, token string) (*domain.Record, error) {
	rec, err := t.repo.FindByToken(token)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.UserID != userID {
		return nil, domain.ErrRecordNotFound
	}
	return rec, nil
}

// IsNotFound reports whether err means no record matched the event.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrRecordNotFound)
}
