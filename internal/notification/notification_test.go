package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	authdomain "outreach-backend/internal/auth/domain"
	authrepo "outreach-backend/internal/auth/repository"
	cooldowndomain "outreach-backend/internal/cooldown/domain"
	inbounddomain "outreach-backend/internal/inbound/domain"
	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/pkg/database"
	"outreach-backend/pkg/fcm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePush struct {
	sent   []fcm.NotificationData
	tokens [][]string
	reject map[string]bool
	err    error
}

func (p *fakePush) SendToDevices(_ context.Context, tokens []string, n fcm.NotificationData) ([]string, error) {
	p.sent = append(p.sent, n)
	p.tokens = append(p.tokens, tokens)
	var failed []string
	for _, t := range tokens {
		if p.reject[t] {
			failed = append(failed, t)
		}
	}
	return failed, p.err
}

func newRepo(t *testing.T) authrepo.FCMTokenRepository {
	t.Helper()
	db := database.OpenTest(t, &authdomain.FCMToken{})
	return authrepo.NewFCMTokenRepository(db)
}

func TestNotifyAvailable_BatchesRecipients(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.SaveToken("u1", "device-a", "web"))
	require.NoError(t, repo.SaveToken("u1", "device-b", "android"))
	push := &fakePush{reject: map[string]bool{"device-b": true}}

	n := NewAvailabilityNotifier(repo, push)
	err := n.NotifyAvailable(context.Background(), "u1", []string{"a@co.com", "b@co.com", "c@co.com", "d@co.com"})
	require.NoError(t, err)

	require.Len(t, push.sent, 1)
	assert.Equal(t, "4 recruiters available again", push.sent[0].Title)
	assert.Equal(t, "You can contact a@co.com, b@co.com, c@co.com and 1 more again.", push.sent[0].Body)
	assert.ElementsMatch(t, []string{"device-a", "device-b"}, push.tokens[0])

	tokens, err := repo.GetTokensByUserID("u1")
	require.NoError(t, err)
	require.Len(t, tokens, 1, "rejected token is pruned")
	assert.Equal(t, "device-a", tokens[0].Token)
}

func TestNotifyAvailable_NoDevices(t *testing.T) {
	n := NewAvailabilityNotifier(newRepo(t), &fakePush{})
	err := n.NotifyAvailable(context.Background(), "u1", []string{"a@co.com"})
	assert.ErrorIs(t, err, cooldowndomain.ErrNoNotificationChannel)
}

func TestNotifyAvailable_AllRejected(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.SaveToken("u1", "device-a", "web"))
	n := NewAvailabilityNotifier(repo, &fakePush{reject: map[string]bool{"device-a": true}})

	err := n.NotifyAvailable(context.Background(), "u1", []string{"a@co.com"})
	assert.Error(t, err)
}

func TestAvailabilityMessage_Single(t *testing.T) {
	title, body := availabilityMessage([]string{"alice@co.com"})
	assert.Equal(t, "Recruiter available again", title)
	assert.Equal(t, "You can contact alice@co.com again.", body)
}

func TestLogNotifier(t *testing.T) {
	err := LogNotifier{}.NotifyAvailable(context.Background(), "u1", []string{"a@co.com"})
	assert.True(t, errors.Is(err, cooldowndomain.ErrNoNotificationChannel))
}

type fakePoller struct {
	mu     sync.Mutex
	emails []string
	err    error
}

func (p *fakePoller) PollEmail(_ context.Context, email string) (inbounddomain.Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails = append(p.emails, email)
	return inbounddomain.Summary{AccountsChecked: 1}, p.err
}

func TestHandleMessage_DedupsByHistoryID(t *testing.T) {
	poller := &fakePoller{}
	s := newService(poller, "gmail-push", time.Second)
	ctx := context.Background()

	assert.True(t, s.HandleMessage(ctx, []byte(`{"emailAddress":"Jane@Example.com","historyId":100}`)))
	assert.False(t, s.HandleMessage(ctx, []byte(`{"emailAddress":"jane@example.com","historyId":100}`)))
	assert.False(t, s.HandleMessage(ctx, []byte(`{"emailAddress":"jane@example.com","historyId":99}`)))
	assert.True(t, s.HandleMessage(ctx, []byte(`{"emailAddress":"jane@example.com","historyId":101}`)))
	assert.True(t, s.HandleMessage(ctx, []byte(`{"emailAddress":"tom@example.com","historyId":5}`)))

	assert.Equal(t, []string{"jane@example.com", "jane@example.com", "tom@example.com"}, poller.emails)
}

func TestHandleMessage_IgnoresGarbageAndUnknownMailbox(t *testing.T) {
	poller := &fakePoller{err: mailboxdomain.ErrNotConnected}
	s := newService(poller, "gmail-push", 0)

	assert.False(t, s.HandleMessage(context.Background(), []byte(`not json`)))
	assert.False(t, s.HandleMessage(context.Background(), []byte(`{"historyId":1}`)))
	assert.True(t, s.HandleMessage(context.Background(), []byte(`{"emailAddress":"x@y.com","historyId":1}`)))
	assert.Equal(t, "gmail-push-sub", s.subName)
	assert.NoError(t, s.Close())
}
