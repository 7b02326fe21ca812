package mailcompose

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// markupTags are the elements that make a body count as HTML.
var markupTags = map[atom.Atom]bool{
	atom.Html: true, atom.Body: true, atom.P: true, atom.Div: true, atom.Br: true,
	atom.A: true, atom.Span: true, atom.Table: true, atom.B: true, atom.I: true,
	atom.Strong: true, atom.Em: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
}

// lineBreaks end a line of text when converting to plain text.
var lineBreaks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true, atom.Blockquote: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// TrackingURL returns the pixel URL for a token, or the click-redirect URL
// when target is non-empty. Click URLs carry a signature over token and
// target so the redirect endpoint only follows links it issued.
func TrackingURL(baseURL, secret, token, target string) string {
	base := strings.TrimSuffix(baseURL, "/") + "/api/track?id=" + url.QueryEscape(token)
	if target == "" {
		return base
	}
	return base + "&event=click&url=" + url.QueryEscape(target) + "&sig=" + SignTarget(secret, token, target)
}

// SignTarget returns the hex HMAC-SHA256 of token and target under secret.
func SignTarget(secret, token, target string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token))
	mac.Write([]byte{0})
	mac.Write([]byte(target))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyTarget reports whether sig was issued by SignTarget for token and target.
func VerifyTarget(secret, token, target, sig string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(SignTarget(secret, token, target))
	return hmac.Equal(got, want)
}

// InjectTracking rewrites every absolute http(s) anchor link through the
// click redirect and appends a 1x1 open pixel. Links already pointing at the
// tracking endpoint are left alone. Markup other than rewritten anchors is
// copied byte for byte.
func InjectTracking(htmlBody, baseURL, secret, token string) string {
	trackPrefix := strings.TrimSuffix(baseURL, "/") + "/api/track"

	var out strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(htmlBody))
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		raw := string(z.Raw())
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			out.WriteString(raw)
			continue
		}
		tok := z.Token()
		if tok.DataAtom != atom.A || !rewriteHref(&tok, baseURL, trackPrefix, secret, token) {
			out.WriteString(raw)
			continue
		}
		out.WriteString(tok.String())
	}
	rewritten := out.String()

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`,
		html.EscapeString(TrackingURL(baseURL, secret, token, "")))

	if idx := strings.LastIndex(strings.ToLower(rewritten), "</body>"); idx >= 0 {
		return rewritten[:idx] + pixel + rewritten[idx:]
	}
	return rewritten + pixel
}

func rewriteHref(tok *xhtml.Token, baseURL, trackPrefix, secret, token string) bool {
	for i, attr := range tok.Attr {
		if attr.Namespace != "" || attr.Key != "href" {
			continue
		}
		target := strings.TrimSpace(attr.Val)
		lower := strings.ToLower(target)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			return false
		}
		if strings.HasPrefix(target, trackPrefix) {
			return false
		}
		tok.Attr[i].Val = TrackingURL(baseURL, secret, token, target)
		return true
	}
	return false
}

// IsHTML guesses whether body is HTML markup rather than plain text.
func IsHTML(body string) bool {
	z := xhtml.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return false
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken, xhtml.EndTagToken:
			name, _ := z.TagName()
			if markupTags[atom.Lookup(name)] {
				return true
			}
		}
	}
}

// ToHTML returns body as HTML, converting plain text line breaks.
func ToHTML(body string) string {
	if IsHTML(body) {
		return body
	}
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return "<div>" + strings.ReplaceAll(escaped, "\n", "<br>\n") + "</div>"
}

// ToText strips markup and collapses whitespace, keeping one line per
// block element. Script and style contents are dropped.
func ToText(body string) string {
	if !IsHTML(body) {
		return strings.TrimSpace(body)
	}

	var b strings.Builder
	skip := 0
	z := xhtml.NewTokenizer(strings.NewReader(body))
	for done := false; !done; {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			done = true
		case xhtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken, xhtml.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Script || a == atom.Style || a == atom.Head:
				if tt == xhtml.StartTagToken {
					skip++
				} else if tt == xhtml.EndTagToken && skip > 0 {
					skip--
				}
			case a == atom.Br:
				b.WriteByte('\n')
			case tt == xhtml.EndTagToken && lineBreaks[a]:
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Preview collapses body to a single line of at most limit runes, with an
// ellipsis when truncated.
func Preview(body string, limit int) string {
	text := strings.Join(strings.Fields(ToText(body)), " ")
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}
