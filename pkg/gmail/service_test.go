package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mailboxdomain "outreach-backend/internal/mailbox/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
)

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestConvertGmailMessage(t *testing.T) {
	received := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	msg := &gmail.Message{
		Id:           "18c-abc",
		ThreadId:     "18c-root",
		Snippet:      "Thanks, let's talk",
		InternalDate: received.UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice Recruiter <Alice@Co.com>"},
				{Name: "To", Value: "jane@example.com, Other <other@example.com>"},
				{Name: "Subject", Value: "Re: Backend role"},
				{Name: "In-Reply-To", Value: "<orig-1@example.com>"},
				{Name: "References", Value: "<root@example.com> <orig-1@example.com>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("Thanks, let's talk.")}},
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<p>Thanks, let's talk.</p>")}},
				{MimeType: "text/plain", Filename: "cv.txt", Body: &gmail.MessagePartBody{Data: encode("attachment")}},
			},
		},
	}

	got := convertGmailMessage(msg)

	assert.Equal(t, "18c-abc", got.ProviderMessageID)
	assert.Equal(t, "18c-root", got.ProviderThreadID)
	assert.Equal(t, "alice@co.com", got.From)
	assert.Equal(t, "Alice Recruiter", got.FromName)
	assert.Equal(t, []string{"jane@example.com", "other@example.com"}, got.To)
	assert.Equal(t, "orig-1@example.com", got.InReplyTo)
	assert.Equal(t, []string{"root@example.com", "orig-1@example.com"}, got.References)
	assert.Equal(t, "Thanks, let's talk.", got.PlainBody)
	assert.Equal(t, "<p>Thanks, let's talk.</p>", got.HTMLBody)
	assert.True(t, received.Equal(got.ReceivedAt))
	assert.True(t, got.HasReplySubject())
}

func TestConvertGmailMessage_SinglePartHTML(t *testing.T) {
	msg := &gmail.Message{
		Id: "1",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Headers:  []*gmail.MessagePartHeader{{Name: "from", Value: "not-an-address"}},
			Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<b>hi</b>"))},
		},
	}

	got := convertGmailMessage(msg)
	assert.Equal(t, "not-an-address", got.From)
	assert.Empty(t, got.PlainBody)
	assert.Equal(t, "<b>hi</b>", got.HTMLBody)
	assert.Equal(t, "<b>hi</b>", got.Body())
}

func TestUnreadQuery(t *testing.T) {
	since := time.Unix(1700000000, 0)
	assert.Equal(t, "is:unread in:inbox after:1700000000", unreadQuery(since))
	assert.Equal(t, "is:unread in:inbox", unreadQuery(time.Time{}))
}

func TestParseMsgIDs(t *testing.T) {
	assert.Equal(t, []string{"a@x", "b@y"}, parseMsgIDs("<a@x>\r\n <b@y>"))
	assert.Nil(t, parseMsgIDs(""))
}

type staticSource struct {
	tok *oauth2.Token
	err error
}

func (s *staticSource) Token() (*oauth2.Token, error) { return s.tok, s.err }

func TestNotifyTokenSource_CallsBackOnChange(t *testing.T) {
	var saved []string
	src := &notifyTokenSource{
		src:     &staticSource{tok: &oauth2.Token{AccessToken: "new"}},
		current: &oauth2.Token{AccessToken: "old"},
		callback: func(tok *oauth2.Token) error {
			saved = append(saved, tok.AccessToken)
			return errors.New("db down")
		},
	}

	_, err := src.Token()
	require.NoError(t, err, "callback errors are logged, not returned")
	_, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, saved)
}

func TestGetGmailService_RefreshFailure(t *testing.T) {
	// No client credentials and an already-expired token with a refresh
	// token forces a refresh against an unreachable endpoint.
	svc := NewService("", "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetGmailService(ctx, &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}, nil)
	assert.ErrorIs(t, err, mailboxdomain.ErrTokenRefresh)
	assert.False(t, svc.Configured())
}

// stallingTokenServer never answers until the client goes away.
func stallingTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func expiredToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}
}

func TestGetGmailService_RefreshTimesOut(t *testing.T) {
	tokenSrv := stallingTokenServer(t)
	svc := NewService("id", "secret", 100*time.Millisecond)
	svc.endpoint = oauth2.Endpoint{TokenURL: tokenSrv.URL}

	start := time.Now()
	_, err := svc.GetGmailService(context.Background(), expiredToken(), nil)
	assert.ErrorIs(t, err, mailboxdomain.ErrTokenRefresh)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGetGmailService_RefreshHonorsCallerDeadline(t *testing.T) {
	tokenSrv := stallingTokenServer(t)
	svc := NewService("id", "secret", time.Minute)
	svc.endpoint = oauth2.Endpoint{TokenURL: tokenSrv.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := svc.ForAccount(expiredToken(), "Jane", "jane@example.com", nil).ListUnread(ctx, time.Time{})
	assert.ErrorIs(t, err, mailboxdomain.ErrTokenRefresh)
	assert.Less(t, time.Since(start), 2*time.Second)
}
