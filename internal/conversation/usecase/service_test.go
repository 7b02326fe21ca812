package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"outreach-backend/internal/conversation/domain"
	"outreach-backend/internal/conversation/repository"
	"outreach-backend/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	tokens []string
}

func (o *recordingObserver) MarkReplied(_ context.Context, token string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens = append(o.tokens, token)
	return nil
}

func newService(t *testing.T) *Service {
	t.Helper()
	db := database.OpenTest(t, &domain.Thread{}, &domain.Message{})
	return NewService(repository.NewThreadRepository(db), repository.NewMessageRepository(db))
}

func TestGetOrCreateThread_NormalizesRecruiter(t *testing.T) {
	svc := newService(t)

	first, err := svc.GetOrCreateThread("u1", " Alice@Co.com ", domain.ThreadDefaults{CompanyName: "Co"})
	require.NoError(t, err)
	second, err := svc.GetOrCreateThread("u1", "alice@co.com", domain.ThreadDefaults{})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice@co.com", second.RecruiterEmail)
	assert.Equal(t, "Co", second.CompanyName)

	found, err := svc.FindThread("u1", "ALICE@co.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	none, err := svc.FindThread("u2", "alice@co.com")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAppendMessage_Validation(t *testing.T) {
	svc := newService(t)
	thread, err := svc.GetOrCreateThread("u1", "alice@co.com", domain.ThreadDefaults{})
	require.NoError(t, err)

	_, err = svc.AppendMessage(context.Background(), thread.ID, &domain.NewMessage{SenderType: "bot", ProviderMessageID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	_, err = svc.AppendMessage(context.Background(), thread.ID, &domain.NewMessage{SenderType: domain.SenderUser})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func TestAppendMessage_RecruiterReplyNotifiesObserver(t *testing.T) {
	svc := newService(t)
	obs := &recordingObserver{}
	svc.SetReplyObserver(obs)
	ctx := context.Background()

	thread, err := svc.GetOrCreateThread("u1", "alice@co.com", domain.ThreadDefaults{})
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, thread.ID, &domain.NewMessage{
		SenderType: domain.SenderUser, Subject: "Hello", Body: "Hi", ProviderMessageID: "out-1", TrackingToken: "tok-1",
	})
	require.NoError(t, err)
	assert.Empty(t, obs.tokens)

	reply := &domain.NewMessage{SenderType: domain.SenderRecruiter, Subject: "Re: Hello", Body: "Sure", ProviderMessageID: "in-1"}
	res, err := svc.AppendMessage(ctx, thread.ID, reply)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []string{"tok-1"}, obs.tokens)

	// a redelivered reply is a duplicate and does not notify again
	res, err = svc.AppendMessage(ctx, thread.ID, reply)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, obs.tokens, 1)

	got, err := svc.GetThread("u1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ThreadReplied, got.Status)
	assert.Equal(t, 2, got.TotalMessages)

	last, err := svc.LastMessage(thread.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "in-1", last.ProviderMessageID)
}

func TestThreadOwnership(t *testing.T) {
	svc := newService(t)
	thread, err := svc.GetOrCreateThread("u1", "alice@co.com", domain.ThreadDefaults{})
	require.NoError(t, err)

	_, err = svc.GetThread("u2", thread.ID)
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
	_, err = svc.ListMessages("u2", thread.ID)
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
	assert.ErrorIs(t, svc.ArchiveThread("u2", thread.ID), domain.ErrThreadNotFound)

	require.NoError(t, svc.ArchiveThread("u1", thread.ID))
	threads, total, err := svc.ListThreads("u1", domain.ThreadArchived, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, threads, 1)
}
