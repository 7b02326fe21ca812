// Package imap connects generic IMAP/SMTP mailboxes (app-password accounts)
// to the outreach pipeline.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailcompose"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

const maxUnreadPerPoll = 500

// Config holds connection settings for one account.
type Config struct {
	ImapServer string
	ImapPort   int
	SmtpServer string
	SmtpPort   int
	Username   string
	Password   string
	FromName   string
	// UseTLS selects implicit TLS for IMAP. Production accounts use 993.
	UseTLS  bool
	Timeout time.Duration
}

// Mailbox implements the mailbox Provider interface over IMAP and SMTP.
type Mailbox struct {
	cfg Config
}

func NewMailbox(cfg Config) *Mailbox {
	if cfg.ImapPort == 0 {
		cfg.ImapPort = 993
	}
	if cfg.SmtpPort == 0 {
		cfg.SmtpPort = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Mailbox{cfg: cfg}
}

func (m *Mailbox) connect(ctx context.Context) (*client.Client, func(), error) {
	addr := net.JoinHostPort(m.cfg.ImapServer, strconv.Itoa(m.cfg.ImapPort))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}

	var (
		c   *client.Client
		err error
	)
	if m.cfg.UseTLS {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: m.cfg.ImapServer})
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("imap: dial %s: %w", addr, err)
	}
	c.Timeout = m.cfg.Timeout

	// go-imap v1 is not context aware; cut the connection when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		stop()
		_ = c.Terminate()
		return nil, nil, fmt.Errorf("%w: imap login: %v", mailboxdomain.ErrTokenRefresh, err)
	}

	cleanup := func() {
		stop()
		if err := c.Logout(); err != nil {
			_ = c.Terminate()
		}
	}
	return c, cleanup, nil
}

// ListUnread returns unseen INBOX messages received after since, oldest first.
// Bodies are fetched with BODY.PEEK so nothing is marked seen here.
func (m *Mailbox) ListUnread(ctx context.Context, since time.Time) ([]*mailboxdomain.InboundMessage, error) {
	c, cleanup, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("imap: select inbox: %w", err)
	}

	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.SeenFlag}
	if !since.IsZero() {
		criteria.Since = since
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap: search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > maxUnreadPerPoll {
		uids = uids[len(uids)-maxUnreadPerPoll:]
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid, goimap.FetchInternalDate}

	fetched := make(chan *goimap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, fetched)
	}()

	var messages []*mailboxdomain.InboundMessage
	for msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		inbound, err := toInbound(body, msg.Uid, msg.InternalDate, m.cfg.ImapServer)
		if err != nil {
			logger.Warn("imap: skipping unparsable message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		// SINCE only has day granularity.
		if !since.IsZero() && inbound.ReceivedAt.Before(since) {
			continue
		}
		messages = append(messages, inbound)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap: fetch: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
	})
	return messages, nil
}

func toInbound(body goimap.Literal, uid uint32, internalDate time.Time, host string) (*mailboxdomain.InboundMessage, error) {
	parsed, err := mailcompose.Parse(body)
	if err != nil {
		return nil, err
	}

	id := parsed.MessageID
	if id == "" {
		id = syntheticID(uid, host)
	}
	received := internalDate
	if received.IsZero() {
		received = parsed.Date
	}

	threadID := parsed.ThreadRoot()
	if threadID == "" {
		threadID = id
	}

	return &mailboxdomain.InboundMessage{
		ProviderMessageID: id,
		ProviderThreadID:  threadID,
		MessageIDHeader:   parsed.MessageID,
		From:              parsed.From,
		FromName:          parsed.FromName,
		To:                parsed.To,
		Subject:           parsed.Subject,
		InReplyTo:         parsed.InReplyTo,
		References:        parsed.References,
		PlainBody:         parsed.Plain,
		HTMLBody:          parsed.HTML,
		Snippet:           mailcompose.Preview(parsed.Plain+parsed.HTML, 200),
		ReceivedAt:        received.UTC(),
	}, nil
}

func syntheticID(uid uint32, host string) string {
	return fmt.Sprintf("uid-%d@%s", uid, host)
}

func parseSyntheticID(id string) (uint32, bool) {
	if !strings.HasPrefix(id, "uid-") {
		return 0, false
	}
	rest := strings.TrimPrefix(id, "uid-")
	if at := strings.Index(rest, "@"); at > 0 {
		rest = rest[:at]
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// MarkAsRead sets \Seen on the message with the given Message-ID.
func (m *Mailbox) MarkAsRead(ctx context.Context, providerMessageID string) error {
	c, cleanup, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("imap: select inbox: %w", err)
	}

	var uids []uint32
	if uid, ok := parseSyntheticID(providerMessageID); ok {
		uids = []uint32{uid}
	} else {
		criteria := goimap.NewSearchCriteria()
		criteria.Header = textproto.MIMEHeader{"Message-Id": {providerMessageID}}
		uids, err = c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("imap: search message id: %w", err)
		}
	}
	if len(uids) == 0 {
		return fmt.Errorf("imap: message %s not found", providerMessageID)
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)
	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{goimap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("imap: mark seen: %w", err)
	}
	return nil
}

// Send renders the message and submits it over SMTP. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when offered.
func (m *Mailbox) Send(ctx context.Context, msg *mailboxdomain.OutboundMessage) (*mailboxdomain.SendResult, error) {
	if m.cfg.SmtpServer == "" {
		return nil, errors.New("imap: no smtp server configured")
	}
	fromName := msg.FromName
	if fromName == "" {
		fromName = m.cfg.FromName
	}
	from := msg.FromEmail
	if from == "" {
		from = m.cfg.Username
	}

	raw, messageID, err := mailcompose.Build(&mailcompose.Envelope{
		FromName:   fromName,
		FromEmail:  from,
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

	if err := m.submit(ctx, from, msg.To, raw); err != nil {
		return nil, err
	}

	threadID := msg.ProviderThreadID
	if threadID == "" {
		threadID = messageID
	}
	return &mailboxdomain.SendResult{
		ProviderMessageID: messageID,
		ProviderThreadID:  threadID,
		MessageIDHeader:   messageID,
	}, nil
}

func (m *Mailbox) submit(ctx context.Context, from, to string, raw []byte) error {
	host := m.cfg.SmtpServer
	addr := net.JoinHostPort(host, strconv.Itoa(m.cfg.SmtpPort))
	tlsConfig := &tls.Config{ServerName: host}

	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	var (
		conn net.Conn
		err  error
	)
	if m.cfg.SmtpPort == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	c := smtp.NewClient(conn)
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if m.cfg.SmtpPort != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp: starttls: %w", err)
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}
	if err := c.SendMail(from, []string{to}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return c.Quit()
}
