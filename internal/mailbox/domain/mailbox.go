package domain

import (
	"context"
	"errors"
	"regexp"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrTokenRefresh means the account's OAuth token could not be refreshed.
	// The account is skipped until the user reconnects.
	ErrTokenRefresh = errors.New("mailbox token refresh failed")
	// ErrNotConnected means the user has no usable mailbox credentials.
	ErrNotConnected = errors.New("mailbox not connected")
	// ErrUnsupportedProvider is returned for accounts of unknown provider type.
	ErrUnsupportedProvider = errors.New("unsupported mailbox provider")
	// ErrProviderNotConfigured means server-side credentials for the provider
	// (OAuth client, encryption key) are missing.
	ErrProviderNotConfigured = errors.New("mailbox provider not configured")
)

// TokenUpdateFunc persists a refreshed OAuth token.
type TokenUpdateFunc func(token *oauth2.Token) error

// Account identifies one connected mailbox.
type Account struct {
	UserID   string
	Email    string
	Name     string
	Provider string
	// DailySendLimit is the user's override; zero means the server default.
	DailySendLimit int
}

// InboundMessage is an unread message fetched from a mailbox.
type InboundMessage struct {
	ProviderMessageID string
	ProviderThreadID  string
	MessageIDHeader   string
	From              string
	FromName          string
	To                []string
	Subject           string
	InReplyTo         string
	References        []string
	PlainBody         string
	HTMLBody          string
	Snippet           string
	ReceivedAt        time.Time
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|aw|sv|antw)\s*:`)

// HasReplySubject reports whether the subject carries a reply prefix.
func (m *InboundMessage) HasReplySubject() bool {
	return replyPrefix.MatchString(m.Subject)
}

// HasReplyHeaders reports whether In-Reply-To or References is present.
func (m *InboundMessage) HasReplyHeaders() bool {
	return m.InReplyTo != "" || len(m.References) > 0
}

// Body returns the plain body, else the HTML body, else the snippet.
func (m *InboundMessage) Body() string {
	switch {
	case m.PlainBody != "":
		return m.PlainBody
	case m.HTMLBody != "":
		return m.HTMLBody
	default:
		return m.Snippet
	}
}

// OutboundMessage is a fully rendered message ready for a provider.
type OutboundMessage struct {
	FromName   string
	FromEmail  string
	To         string
	Subject    string
	HTML       string
	Text       string
	InReplyTo  string
	References []string
	// ProviderThreadID continues an existing provider-side thread when set.
	ProviderThreadID string
}

// SendResult carries the provider identifiers of an accepted message.
type SendResult struct {
	ProviderMessageID string
	ProviderThreadID  string
	// MessageIDHeader is the RFC 5322 Message-ID, used for reply threading.
	MessageIDHeader string
}

// Provider is a connected mailbox able to send and to list unread mail.
type Provider interface {
	Send(ctx context.Context, msg *OutboundMessage) (*SendResult, error)
	ListUnread(ctx context.Context, since time.Time) ([]*InboundMessage, error)
	MarkAsRead(ctx context.Context, providerMessageID string) error
}
