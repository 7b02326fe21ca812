package usecase

import (
	"context"
	"testing"
	"time"

	convdomain "outreach-backend/internal/conversation/domain"
	convrepo "outreach-backend/internal/conversation/repository"
	"outreach-backend/internal/tracking/domain"
	"outreach-backend/internal/tracking/repository"
	"outreach-backend/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	tracker  *Tracker
	messages convrepo.MessageRepository
	threadID string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := database.OpenTest(t, &domain.Record{}, &convdomain.Thread{}, &convdomain.Message{})
	threads := convrepo.NewThreadRepository(db)
	messages := convrepo.NewMessageRepository(db)

	now := time.Now().UTC()
	thread, err := threads.CreateIfAbsent(&convdomain.Thread{UserID: "u1", RecruiterEmail: "alice@co.com", FirstContactAt: now, LastActivityAt: now})
	require.NoError(t, err)
	_, err = messages.Append(thread.ID, &convdomain.NewMessage{
		SenderType: convdomain.SenderUser, Subject: "Hello", ProviderMessageID: "prov-1", TrackingToken: "tok-1",
	})
	require.NoError(t, err)

	tracker := NewTracker(repository.NewTrackingRepository(db), messages)
	_, err = tracker.CreateRecord(context.Background(), &domain.NewRecord{
		Token: "tok-1", UserID: "u1", ThreadID: thread.ID, ProviderMessageID: "prov-1",
		Recipient: "Alice@Co.com", Subject: "Hello",
	})
	require.NoError(t, err)

	return &fixture{tracker: tracker, messages: messages, threadID: thread.ID}
}

func (f *fixture) message(t *testing.T) *convdomain.Message {
	t.Helper()
	m, err := f.messages.FindByProviderID(f.threadID, "prov-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func TestCreateRecord(t *testing.T) {
	f := setup(t)
	rec, err := f.tracker.Get("u1", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@co.com", rec.Recipient)
	assert.Equal(t, "co.com", rec.Domain)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Empty(t, rec.ClickLinks)

	_, err = f.tracker.Get("u2", "tok-1")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRecordOpen_FirstOpenWinsAndPropagates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.tracker.RecordOpen(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, first.OpenedAt)
	openedAt := *first.OpenedAt

	second, err := f.tracker.RecordOpen(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, second.OpenedAt.Equal(openedAt))
	assert.Equal(t, 2, second.OpenCount)

	m := f.message(t)
	assert.Equal(t, convdomain.StatusOpened, m.Status)
	require.NotNil(t, m.OpenedAt)
	assert.True(t, m.OpenedAt.Equal(openedAt))
}

func TestPixelThenWebhookClickThenDelivered(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.tracker.RecordOpen(ctx, "tok-1")
	require.NoError(t, err)

	rec, err := f.tracker.Apply(ctx, domain.Event{
		Type: domain.EventClicked, ProviderMessageID: "prov-1", URL: "https://jobs.example.com", Source: domain.SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClicked, rec.Status)

	rec, err = f.tracker.Apply(ctx, domain.Event{Type: domain.EventDelivered, Token: "tok-1", Source: domain.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClicked, rec.Status)
	assert.NotNil(t, rec.DeliveredAt)

	assert.Equal(t, convdomain.StatusClicked, f.message(t).Status)
}

func TestRecordClick_EveryClickRecorded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.tracker.RecordClick(ctx, "tok-1", "https://jobs.example.com/role")
		require.NoError(t, err)
	}
	rec, err := f.tracker.Get("u1", "tok-1")
	require.NoError(t, err)
	assert.Len(t, rec.ClickLinks, 3)
	assert.Equal(t, "https://jobs.example.com/role", rec.ClickLinks[0].URL)
}

func TestApply_UnknownRecord(t *testing.T) {
	f := setup(t)
	_, err := f.tracker.RecordOpen(context.Background(), "nope")
	assert.True(t, IsNotFound(err))

	_, err = f.tracker.Apply(context.Background(), domain.Event{Type: domain.EventDelivered})
	assert.True(t, IsNotFound(err))
}

func TestBounceIsTerminal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.tracker.Apply(ctx, domain.Event{Type: domain.EventBounced, Token: "tok-1", Source: domain.SourceWebhook})
	require.NoError(t, err)
	rec, err := f.tracker.RecordOpen(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBounced, rec.Status)
	assert.Equal(t, convdomain.StatusBounced, f.message(t).Status)
}

func TestMarkRepliedAndStats(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, f.tracker.MarkReplied(ctx, "tok-1", at))
	require.NoError(t, f.tracker.MarkReplied(ctx, "tok-1", at.Add(time.Hour)))
	assert.ErrorIs(t, f.tracker.MarkReplied(ctx, "missing", at), domain.ErrRecordNotFound)

	rec, err := f.tracker.Get("u1", "tok-1")
	require.NoError(t, err)
	require.NotNil(t, rec.RepliedAt)
	assert.True(t, rec.RepliedAt.Equal(at))
	assert.Equal(t, domain.StatusSent, rec.Status)

	_, err = f.tracker.RecordOpen(ctx, "tok-1")
	require.NoError(t, err)

	stats, err := f.tracker.Stats("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Opened)
	assert.Equal(t, int64(1), stats.Replied)
	assert.InDelta(t, 1.0, stats.ReplyRate, 1e-9)
}

func TestCountSentSince(t *testing.T) {
	f := setup(t)
	n, err := f.tracker.CountSentSince("u1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.tracker.CountSentSince("u1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
