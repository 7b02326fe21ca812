package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	convdomain "outreach-backend/internal/conversation/domain"
	convrepo "outreach-backend/internal/conversation/repository"
	convusecase "outreach-backend/internal/conversation/usecase"
	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/pkg/config"
	"outreach-backend/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailbox struct {
	mu       sync.Mutex
	unread   []*mailboxdomain.InboundMessage
	read     []string
	listErr  error
	keepRead bool // leave messages unread after MarkAsRead, like a failed flag update
}

func (m *fakeMailbox) Send(context.Context, *mailboxdomain.OutboundMessage) (*mailboxdomain.SendResult, error) {
	return nil, nil
}

func (m *fakeMailbox) ListUnread(_ context.Context, since time.Time) ([]*mailboxdomain.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*mailboxdomain.InboundMessage
	for _, msg := range m.unread {
		if !msg.ReceivedAt.Before(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *fakeMailbox) MarkAsRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, id)
	if m.keepRead {
		return nil
	}
	kept := m.unread[:0]
	for _, msg := range m.unread {
		if msg.ProviderMessageID != id {
			kept = append(kept, msg)
		}
	}
	m.unread = kept
	return nil
}

type fakeAccounts struct {
	accounts  []mailboxdomain.Account
	mailboxes map[string]*fakeMailbox
	errs      map[string]error
}

func (f *fakeAccounts) ConnectedAccounts() ([]mailboxdomain.Account, error) {
	return f.accounts, nil
}

func (f *fakeAccounts) AccountForUser(userID string) (*mailboxdomain.Account, error) {
	for i := range f.accounts {
		if f.accounts[i].UserID == userID {
			return &f.accounts[i], nil
		}
	}
	return nil, mailboxdomain.ErrNotConnected
}

func (f *fakeAccounts) AccountForEmail(email string) (*mailboxdomain.Account, error) {
	for i := range f.accounts {
		if f.accounts[i].Email == email {
			return &f.accounts[i], nil
		}
	}
	return nil, mailboxdomain.ErrNotConnected
}

func (f *fakeAccounts) Provider(_ context.Context, account *mailboxdomain.Account) (mailboxdomain.Provider, error) {
	if err := f.errs[account.UserID]; err != nil {
		return nil, err
	}
	return f.mailboxes[account.UserID], nil
}

type fixture struct {
	poller   *Poller
	convs    *convusecase.Service
	accounts *fakeAccounts
	mailbox  *fakeMailbox
}

func setup(t *testing.T, mode string) *fixture {
	t.Helper()
	db := database.OpenTest(t, &convdomain.Thread{}, &convdomain.Message{})
	convs := convusecase.NewService(convrepo.NewThreadRepository(db), convrepo.NewMessageRepository(db))

	mailbox := &fakeMailbox{}
	accounts := &fakeAccounts{
		accounts:  []mailboxdomain.Account{{UserID: "u1", Email: "jane@example.com", Provider: "google"}},
		mailboxes: map[string]*fakeMailbox{"u1": mailbox},
		errs:      map[string]error{},
	}
	poller, err := NewPoller(accounts, convs, &config.Config{
		ReplyDetection:  mode,
		PollLookback:    24 * time.Hour,
		PollConcurrency: 2,
		ProviderTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return &fixture{poller: poller, convs: convs, accounts: accounts, mailbox: mailbox}
}

// contact records an outbound message so the recruiter has a thread.
func (f *fixture) contact(t *testing.T, recruiter, providerThreadID string) *convdomain.Thread {
	t.Helper()
	thread, err := f.convs.GetOrCreateThread("u1", recruiter, convdomain.ThreadDefaults{})
	require.NoError(t, err)
	_, err = f.convs.AppendMessage(context.Background(), thread.ID, &convdomain.NewMessage{
		SenderType:        convdomain.SenderUser,
		Subject:           "Application",
		Body:              "Hello",
		SentAt:            time.Now().UTC().Add(-2 * time.Hour),
		ProviderMessageID: "out-" + recruiter,
		ProviderThreadID:  providerThreadID,
	})
	require.NoError(t, err)
	return thread
}

func inbound(id, from, subject string) *mailboxdomain.InboundMessage {
	return &mailboxdomain.InboundMessage{
		ProviderMessageID: id,
		ProviderThreadID:  "thread-" + id,
		From:              from,
		Subject:           subject,
		PlainBody:         "Thanks for reaching out",
		ReceivedAt:        time.Now().UTC().Add(-time.Hour),
	}
}

func TestRun_RecordsReplyAndMarksRead(t *testing.T) {
	f := setup(t, "heuristic")
	thread := f.contact(t, "alice@co.com", "")
	f.mailbox.unread = []*mailboxdomain.InboundMessage{inbound("m1", "alice@co.com", "Re: Application")}

	summary, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AccountsChecked)
	assert.Equal(t, 1, summary.Processed)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, []string{"m1"}, f.mailbox.read)

	got, err := f.convs.GetThread("u1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalMessages)
	assert.Equal(t, 1, got.RecruiterMessagesCount)
	assert.Equal(t, convdomain.ThreadReplied, got.Status)

	msgs, err := f.convs.ListMessages("u1", thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Thanks for reaching out", msgs[1].BodyFull)
	assert.Equal(t, convdomain.StatusReplied, msgs[0].Status)
}

func TestRun_ReplayIsIdempotent(t *testing.T) {
	f := setup(t, "heuristic")
	thread := f.contact(t, "alice@co.com", "")
	f.mailbox.keepRead = true
	f.mailbox.unread = []*mailboxdomain.InboundMessage{inbound("m1", "alice@co.com", "Re: Application")}

	first, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	second, err := f.poller.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Duplicates)
	assert.Len(t, f.mailbox.read, 1, "only inserts are marked read")

	msgs, err := f.convs.ListMessages("u1", thread.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestRun_SkipsUnknownSender(t *testing.T) {
	f := setup(t, "heuristic")
	f.mailbox.unread = []*mailboxdomain.InboundMessage{inbound("m1", "bob@co.com", "Re: Application")}

	summary, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Processed)

	thread, err := f.convs.FindThread("u1", "bob@co.com")
	require.NoError(t, err)
	assert.Nil(t, thread, "no thread is created for unsolicited mail")
	assert.Empty(t, f.mailbox.read)
}

func TestRun_SkipsNonReply(t *testing.T) {
	f := setup(t, "heuristic")
	thread := f.contact(t, "carol@co.com", "")
	f.mailbox.unread = []*mailboxdomain.InboundMessage{inbound("m1", "carol@co.com", "New openings at Co")}

	summary, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)

	got, err := f.convs.GetThread("u1", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalMessages)
}

func TestRun_SkipsSelfSentAndMalformed(t *testing.T) {
	f := setup(t, "heuristic")
	f.contact(t, "jane@example.com", "")
	f.mailbox.unread = []*mailboxdomain.InboundMessage{
		inbound("m1", "Jane@Example.com", "Re: Application"),
		{ProviderMessageID: "m2", Subject: "Re: x", ReceivedAt: time.Now().UTC()},
	}

	summary, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Processed)
}

func TestRun_ThreadMode(t *testing.T) {
	f := setup(t, "thread")
	f.contact(t, "alice@co.com", "gthread-1")
	f.contact(t, "dave@co.com", "gthread-2")

	matching := inbound("m1", "alice@co.com", "Quick question")
	matching.ProviderThreadID = "gthread-1"
	foreign := inbound("m2", "dave@co.com", "Re: Application")
	foreign.ProviderThreadID = "gthread-99"
	f.mailbox.unread = []*mailboxdomain.InboundMessage{matching, foreign}

	summary, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []string{"m1"}, f.mailbox.read)
}

func TestRun_AccountFailuresAreContained(t *testing.T) {
	f := setup(t, "heuristic")
	f.contact(t, "alice@co.com", "")
	f.mailbox.unread = []*mailboxdomain.InboundMessage{inbound("m1", "alice@co.com", "Re: Application")}

	f.accounts.accounts = append(f.accounts.accounts,
		mailboxdomain.Account{UserID: "u2", Email: "tom@example.com", Provider: "google"},
		mailboxdomain.Account{UserID: "u3", Email: "ann@example.com", Provider: "imap"},
	)
	f.accounts.errs["u2"] = mailboxdomain.ErrTokenRefresh
	f.accounts.mailboxes["u3"] = &fakeMailbox{listErr: context.DeadlineExceeded}

	summary, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.AccountsChecked)
	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 1, summary.Processed)
}

func TestRun_MissingConfigurationAborts(t *testing.T) {
	f := setup(t, "heuristic")
	f.accounts.errs["u1"] = mailboxdomain.ErrProviderNotConfigured

	_, err := f.poller.Run(context.Background())
	assert.ErrorIs(t, err, mailboxdomain.ErrProviderNotConfigured)
}

func TestRun_IgnoresMessagesOutsideLookback(t *testing.T) {
	f := setup(t, "heuristic")
	f.contact(t, "alice@co.com", "")
	old := inbound("m1", "alice@co.com", "Re: Application")
	old.ReceivedAt = time.Now().UTC().Add(-48 * time.Hour)
	f.mailbox.unread = []*mailboxdomain.InboundMessage{old}

	summary, err := f.poller.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

func TestPollEmailAndUser(t *testing.T) {
	f := setup(t, "either")
	f.contact(t, "alice@co.com", "")
	f.mailbox.unread = []*mailboxdomain.InboundMessage{inbound("m1", "alice@co.com", "Re: Application")}

	summary, err := f.poller.PollEmail(context.Background(), "Jane@Example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	_, err = f.poller.PollUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, mailboxdomain.ErrNotConnected)
}

func TestNewPoller_RejectsUnknownMode(t *testing.T) {
	_, err := NewPoller(&fakeAccounts{}, nil, &config.Config{ReplyDetection: "strict"})
	assert.Error(t, err)
}
