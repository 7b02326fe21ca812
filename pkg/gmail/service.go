package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailaddr"
	"outreach-backend/pkg/mailcompose"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = mailboxdomain.TokenUpdateFunc

const (
	user = "me"
	// maxUnreadPerPoll caps how many unread messages one poll inspects.
	maxUnreadPerPoll = 500
	fetchConcurrency = 10
)

type Service struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	// httpTimeout bounds every token refresh request.
	httpTimeout time.Duration
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	mu       sync.Mutex
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			logger.Warn("gmail: failed to persist refreshed token", zap.Error(err))
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string, httpTimeout time.Duration) *Service {
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     google.Endpoint,
		httpTimeout:  httpTimeout,
	}
}

// oauthContext makes oauth2 refresh tokens with a bounded HTTP client.
func (s *Service) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: s.httpTimeout})
}

// Configured reports whether OAuth client credentials are present.
func (s *Service) Configured() bool {
	return s.clientID != "" && s.clientSecret != ""
}

// GetGmailService creates a Gmail client for one account. The token is
// refreshed up front under ctx so an unusable grant fails here with
// ErrTokenRefresh instead of on the first API call.
func (s *Service) GetGmailService(ctx context.Context, token *oauth2.Token, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	tok := *token
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	// Without a known expiry, force a refresh when we can.
	if tok.RefreshToken != "" && tok.Expiry.IsZero() {
		tok.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     s.endpoint,
	}

	initial := &notifyTokenSource{
		src:      config.TokenSource(s.oauthContext(ctx), &tok),
		current:  &tok,
		callback: onTokenRefresh,
	}
	fresh, err := initial.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mailboxdomain.ErrTokenRefresh, err)
	}

	// The HTTP client outlives individual calls, so it must not inherit a
	// per-call deadline. Later refreshes are still bounded by httpTimeout.
	base := s.oauthContext(context.WithoutCancel(ctx))
	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(base, fresh),
		current:  fresh,
		callback: onTokenRefresh,
	}
	client := oauth2.NewClient(base, wrappedSource)

	srv, err := gmail.NewService(base, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return srv, nil
}

// Mailbox is a Gmail account bound to its credentials. It implements
// the mailbox Provider interface.
type Mailbox struct {
	service        *Service
	token          *oauth2.Token
	onTokenRefresh TokenUpdateFunc
	fromName       string
	fromEmail      string

	mu  sync.Mutex
	srv *gmail.Service
}

// ForAccount binds the service to one account's token.
func (s *Service) ForAccount(token *oauth2.Token, fromName, fromEmail string, onTokenRefresh TokenUpdateFunc) *Mailbox {
	return &Mailbox{
		service:        s,
		token:          token,
		onTokenRefresh: onTokenRefresh,
		fromName:       fromName,
		fromEmail:      fromEmail,
	}
}

func (m *Mailbox) client(ctx context.Context) (*gmail.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.srv != nil {
		return m.srv, nil
	}
	srv, err := m.service.GetGmailService(ctx, m.token, m.onTokenRefresh)
	if err != nil {
		return nil, err
	}
	m.srv = srv
	return srv, nil
}

// Send delivers a rendered message through the Gmail API.
func (m *Mailbox) Send(ctx context.Context, msg *mailboxdomain.OutboundMessage) (*mailboxdomain.SendResult, error) {
	srv, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	fromName, fromEmail := msg.FromName, msg.FromEmail
	if fromEmail == "" {
		fromName, fromEmail = m.fromName, m.fromEmail
	}
	raw, messageID, err := mailcompose.Build(&mailcompose.Envelope{
		FromName:   fromName,
		FromEmail:  fromEmail,
		To:         msg.To,
		Subject:    msg.Subject,
		HTML:       msg.HTML,
		Text:       msg.Text,
		InReplyTo:  msg.InReplyTo,
		References: msg.References,
	})
	if err != nil {
		return nil, err
	}

	gmsg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: msg.ProviderThreadID,
	}

	sent, err := srv.Users.Messages.Send(user, gmsg).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to send message: %w", err)
	}

	return &mailboxdomain.SendResult{
		ProviderMessageID: sent.Id,
		ProviderThreadID:  sent.ThreadId,
		MessageIDHeader:   messageID,
	}, nil
}

// ListUnread returns unread inbox messages received after since, oldest first.
func (m *Mailbox) ListUnread(ctx context.Context, since time.Time) ([]*mailboxdomain.InboundMessage, error) {
	srv, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	q := unreadQuery(since)
	var ids []string
	pageToken := ""
	for len(ids) < maxUnreadPerPoll {
		listQuery := srv.Users.Messages.List(user).Q(q).MaxResults(100).Context(ctx)
		if pageToken != "" {
			listQuery = listQuery.PageToken(pageToken)
		}
		resp, err := listQuery.Do()
		if err != nil {
			return nil, fmt.Errorf("unable to list unread messages: %w", err)
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if len(ids) > maxUnreadPerPoll {
		ids = ids[:maxUnreadPerPoll]
	}

	type result struct {
		msg *mailboxdomain.InboundMessage
		err error
		id  string
	}

	results := make(chan result, len(ids))
	semaphore := make(chan struct{}, fetchConcurrency)

	for _, id := range ids {
		go func(msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			full, err := srv.Users.Messages.Get(user, msgID).Format("full").Context(ctx).Do()
			if err != nil {
				results <- result{err: err, id: msgID}
				return
			}
			results <- result{msg: convertGmailMessage(full), id: msgID}
		}(id)
	}

	messages := make([]*mailboxdomain.InboundMessage, 0, len(ids))
	for range ids {
		r := <-results
		if r.err != nil {
			logger.Warn("gmail: failed to fetch message", zap.String("message_id", r.id), zap.Error(r.err))
			continue
		}
		messages = append(messages, r.msg)
	}

	// Parallel fetches complete in any order.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})

	return messages, nil
}

// MarkAsRead removes the UNREAD label.
func (m *Mailbox) MarkAsRead(ctx context.Context, providerMessageID string) error {
	srv, err := m.client(ctx)
	if err != nil {
		return err
	}

	modifyReq := &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}

	_, err = srv.Users.Messages.Modify(user, providerMessageID, modifyReq).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to mark message as read: %w", err)
	}

	return nil
}

// Watch sets up push notifications for the inbox and returns the starting
// history id.
func (m *Mailbox) Watch(ctx context.Context, topicName string) (uint64, error) {
	if topicName == "" {
		return 0, errors.New("gmail: no pub/sub topic configured")
	}
	srv, err := m.client(ctx)
	if err != nil {
		return 0, err
	}

	// Only one push client is allowed per user; clear any previous watch.
	_ = srv.Users.Stop(user).Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}

	resp, err := srv.Users.Watch(user, req).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to watch mailbox: %w", err)
	}
	logger.Info("gmail: watch started",
		zap.String("email", m.fromEmail),
		zap.Int64("expiration", resp.Expiration),
		zap.Uint64("history_id", resp.HistoryId))

	return resp.HistoryId, nil
}

// Stop stops push notifications for the mailbox.
func (m *Mailbox) Stop(ctx context.Context) error {
	srv, err := m.client(ctx)
	if err != nil {
		return err
	}

	if err := srv.Users.Stop(user).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to stop mailbox watch: %w", err)
	}

	return nil
}

func unreadQuery(since time.Time) string {
	q := "is:unread in:inbox"
	if !since.IsZero() {
		q += fmt.Sprintf(" after:%d", since.Unix())
	}
	return q
}

func convertGmailMessage(msg *gmail.Message) *mailboxdomain.InboundMessage {
	out := &mailboxdomain.InboundMessage{
		ProviderMessageID: msg.Id,
		ProviderThreadID:  msg.ThreadId,
		Snippet:           msg.Snippet,
		ReceivedAt:        time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return out
	}

	headers := msg.Payload.Headers
	from := getHeader(headers, "From")
	if addr, name, err := mailaddr.Parse(from); err == nil {
		out.From, out.FromName = addr, name
	} else {
		out.From = mailaddr.Normalize(from)
	}
	for _, to := range strings.Split(getHeader(headers, "To"), ",") {
		if addr, _, err := mailaddr.Parse(to); err == nil {
			out.To = append(out.To, addr)
		}
	}
	out.Subject = getHeader(headers, "Subject")
	if ids := parseMsgIDs(getHeader(headers, "In-Reply-To")); len(ids) > 0 {
		out.InReplyTo = ids[0]
	}
	out.References = parseMsgIDs(getHeader(headers, "References"))
	if ids := parseMsgIDs(getHeader(headers, "Message-ID")); len(ids) > 0 {
		out.MessageIDHeader = ids[0]
	}
	out.PlainBody, out.HTMLBody = getEmailBodies(msg.Payload)

	return out
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// parseMsgIDs splits a References/In-Reply-To value into bare ids.
func parseMsgIDs(value string) []string {
	var ids []string
	for _, field := range strings.Fields(value) {
		id := strings.Trim(field, "<>,")
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// getEmailBodies returns the first text/plain and text/html bodies found.
func getEmailBodies(payload *gmail.MessagePart) (plain, html string) {
	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}
		if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
			data, err := decodeBody(part.Body.Data)
			if err == nil {
				switch part.MimeType {
				case "text/plain":
					if plain == "" {
						plain = data
					}
				case "text/html":
					if html == "" {
						html = data
					}
				}
			}
		}
		for _, child := range part.Parts {
			walk(child)
		}
	}
	walk(payload)
	return plain, html
}

// Gmail uses URL-safe base64, usually without padding.
func decodeBody(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
