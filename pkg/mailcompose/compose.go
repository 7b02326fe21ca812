// Package mailcompose builds outbound MIME messages and parses inbound ones.
package mailcompose

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Envelope is everything needed to render one outbound message.
type Envelope struct {
	FromName   string
	FromEmail  string
	To         string
	Subject    string
	HTML       string
	Text       string
	InReplyTo  string
	References []string
	Date       time.Time
}

// Build renders env as a multipart/alternative message and returns the raw
// bytes together with the generated Message-ID (without angle brackets).
func Build(env *Envelope) ([]byte, string, error) {
	if env.To == "" {
		return nil, "", errors.New("mailcompose: missing recipient")
	}

	var h mail.Header
	date := env.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if env.FromEmail != "" {
		h.SetAddressList("From", []*mail.Address{{Name: env.FromName, Address: env.FromEmail}})
	}
	h.SetAddressList("To", []*mail.Address{{Address: env.To}})
	h.SetSubject(env.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("mailcompose: message id: %w", err)
	}
	if env.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{env.InReplyTo})
	}
	if len(env.References) > 0 {
		h.SetMsgIDList("References", env.References)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("mailcompose: message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, "", err
	}

	text := env.Text
	if text == "" {
		text = ToText(env.HTML)
	}
	if err := writeInlinePart(iw, "text/plain", text); err != nil {
		return nil, "", err
	}
	if env.HTML != "" {
		if err := writeInlinePart(iw, "text/html", env.HTML); err != nil {
			return nil, "", err
		}
	}

	if err := iw.Close(); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), messageID, nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := iw.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Parsed is the subset of an inbound message the pipeline cares about.
type Parsed struct {
	MessageID  string
	From       string
	FromName   string
	To         []string
	Subject    string
	Date       time.Time
	InReplyTo  string
	References []string
	Plain      string
	HTML       string
}

// Parse reads a raw RFC 5322 message. Parts in unknown charsets are kept
// undecoded; attachments are skipped.
func Parse(r io.Reader) (*Parsed, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("mailcompose: parse: %w", err)
	}
	defer mr.Close()

	out := &Parsed{}
	h := mr.Header
	out.MessageID, _ = h.MessageID()
	out.Subject, _ = h.Subject()
	out.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		out.From = strings.ToLower(strings.TrimSpace(from[0].Address))
		out.FromName = from[0].Name
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			out.To = append(out.To, strings.ToLower(addr.Address))
		}
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		out.InReplyTo = ids[0]
	}
	out.References, _ = h.MsgIDList("References")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return out, fmt.Errorf("mailcompose: read part: %w", err)
		}

		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := ih.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if out.Plain == "" {
				out.Plain = string(body)
			}
		case "text/html":
			if out.HTML == "" {
				out.HTML = string(body)
			}
		}
	}
	return out, nil
}

// ThreadRoot picks the conversation root id for a message: the first
// References entry, else In-Reply-To, else the message's own id.
func (p *Parsed) ThreadRoot() string {
	if len(p.References) > 0 {
		return p.References[0]
	}
	if p.InReplyTo != "" {
		return p.InReplyTo
	}
	return p.MessageID
}
