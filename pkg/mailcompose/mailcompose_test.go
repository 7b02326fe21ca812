package mailcompose

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectTracking_RewritesLinksAndAppendsPixel(t *testing.T) {
	body := `<html><body><p>See <a href="https://jobs.example.com/role?id=1&amp;ref=x">the role</a></p></body></html>`

	out := InjectTracking(body, "https://app.example.com/", "s3cret", "tok-1")

	assert.Contains(t, out, `href="https://app.example.com/api/track?id=tok-1&amp;event=click&amp;url=`)
	assert.NotContains(t, out, `href="https://jobs.example.com`)
	assert.Contains(t, out, `<img src="https://app.example.com/api/track?id=tok-1"`)
	assert.True(t, strings.Index(out, "<img") < strings.Index(out, "</body>"), "pixel should sit inside body")
}

func TestInjectTracking_EncodesOriginalURL(t *testing.T) {
	out := InjectTracking(`<a href="https://x.com/a?b=1&amp;c=2">x</a>`, "https://app.example.com", "s3cret", "t")

	start := strings.Index(out, `href="`) + len(`href="`)
	end := strings.Index(out[start:], `"`)
	link, err := url.Parse(strings.ReplaceAll(out[start:start+end], "&amp;", "&"))
	require.NoError(t, err)
	q := link.Query()
	assert.Equal(t, "https://x.com/a?b=1&c=2", q.Get("url"))
	assert.True(t, VerifyTarget("s3cret", "t", q.Get("url"), q.Get("sig")))
}

func TestVerifyTarget(t *testing.T) {
	sig := SignTarget("s3cret", "tok-1", "https://jobs.example.com/a")

	assert.True(t, VerifyTarget("s3cret", "tok-1", "https://jobs.example.com/a", sig))
	assert.False(t, VerifyTarget("s3cret", "tok-1", "https://evil.example.com/", sig))
	assert.False(t, VerifyTarget("s3cret", "tok-2", "https://jobs.example.com/a", sig))
	assert.False(t, VerifyTarget("other", "tok-1", "https://jobs.example.com/a", sig))
	assert.False(t, VerifyTarget("s3cret", "tok-1", "https://jobs.example.com/a", ""))
	assert.False(t, VerifyTarget("s3cret", "tok-1", "https://jobs.example.com/a", "zz"))
}

func TestInjectTracking_LeavesNonHTTPLinks(t *testing.T) {
	out := InjectTracking(`<a href="mailto:me@example.com">mail</a>`, "https://app.example.com", "s3cret", "t")
	assert.Contains(t, out, `href="mailto:me@example.com"`)
	assert.True(t, strings.HasSuffix(out, `style="display:none" />`))
}

func TestInjectTracking_AllHrefQuotingStyles(t *testing.T) {
	cases := map[string]string{
		"double quoted": `<a href="https://jobs.example.com/a">a</a>`,
		"single quoted": `<a href='https://jobs.example.com/a'>a</a>`,
		"unquoted":      `<a href=https://jobs.example.com/a>a</a>`,
		"upper case":    `<A HREF = "HTTPS://jobs.example.com/a">a</A>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			out := InjectTracking(body, "https://app.example.com", "s3cret", "tok-1")
			assert.Contains(t, out, `href="https://app.example.com/api/track?id=tok-1&amp;event=click&amp;url=`)
			assert.NotContains(t, strings.ToLower(out), `href="https://jobs.example.com`)
			assert.NotContains(t, strings.ToLower(out), `href='https://jobs.example.com`)
			assert.NotContains(t, strings.ToLower(out), `href=https://jobs.example.com`)
		})
	}
}

func TestInjectTracking_KeepsOtherMarkup(t *testing.T) {
	body := `<p class='intro'>Hi <b>there</b><img src='https://cdn.example.com/x.png'></p>`
	out := InjectTracking(body, "https://app.example.com", "s3cret", "t")
	assert.True(t, strings.HasPrefix(out, body))
}

func TestToHTMLAndToText(t *testing.T) {
	assert.Equal(t, "<div>Hi &lt;Bob&gt;<br>\nThanks</div>", ToHTML("Hi <Bob>\nThanks"))
	assert.Equal(t, "<p>already</p>", ToHTML("<p>already</p>"))

	assert.Equal(t, "Hello\nWorld & co", ToText("<p>Hello</p><div>World &amp; co</div>"))
	assert.Equal(t, "plain text", ToText("  plain text "))
	assert.Equal(t, "Line one\nLine two", ToText("<div>Line one<br/>Line two<script>var x = 1;</script></div>"))
	assert.False(t, IsHTML("I <3 Go, 2 < 3"))
	assert.True(t, IsHTML("Hi<br>there"))
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 250)
	p := Preview(long, 200)
	assert.Equal(t, 203, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "..."))

	assert.Equal(t, "short one", Preview("<p>short\n one</p>", 200))
}

func TestBuildThenParse(t *testing.T) {
	raw, messageID, err := Build(&Envelope{
		FromName:   "Jane Seeker",
		FromEmail:  "jane@example.com",
		To:         "alice@co.com",
		Subject:    "Backend rôle, quick question",
		HTML:       "<p>Hello Alice</p>",
		InReplyTo:  "root@co.com",
		References: []string{"root@co.com"},
		Date:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotEmpty(t, messageID)
	assert.Contains(t, string(raw), "multipart/alternative")

	parsed, err := Parse(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, messageID, parsed.MessageID)
	assert.Equal(t, "jane@example.com", parsed.From)
	assert.Equal(t, "Jane Seeker", parsed.FromName)
	assert.Equal(t, []string{"alice@co.com"}, parsed.To)
	assert.Equal(t, "Backend rôle, quick question", parsed.Subject)
	assert.Equal(t, "root@co.com", parsed.InReplyTo)
	assert.Equal(t, "root@co.com", parsed.ThreadRoot())
	assert.Equal(t, "Hello Alice", strings.TrimSpace(parsed.Plain))
	assert.Contains(t, parsed.HTML, "<p>Hello Alice</p>")
}

func TestBuild_RequiresRecipient(t *testing.T) {
	_, _, err := Build(&Envelope{Subject: "x"})
	assert.Error(t, err)
}

func TestParse_SinglePartReply(t *testing.T) {
	raw := "From: Alice Recruiter <Alice@Co.com>\r\n" +
		"To: jane@example.com\r\n" +
		"Subject: Re: Backend role\r\n" +
		"Message-ID: <reply-1@co.com>\r\n" +
		"In-Reply-To: <orig-1@example.com>\r\n" +
		"Date: Mon, 02 Mar 2026 10:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Thanks, let's talk.\r\n"

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "reply-1@co.com", parsed.MessageID)
	assert.Equal(t, "alice@co.com", parsed.From)
	assert.Equal(t, "orig-1@example.com", parsed.ThreadRoot())
	assert.Equal(t, "Thanks, let's talk.", strings.TrimSpace(parsed.Plain))
	assert.Empty(t, parsed.HTML)
	assert.Equal(t, 2026, parsed.Date.Year())
}
