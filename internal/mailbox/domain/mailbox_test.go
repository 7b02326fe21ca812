package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInboundMessage_ReplySignals(t *testing.T) {
	tests := []struct {
		subject string
		want    bool
	}{
		{"Re: Backend role", true},
		{"RE:Backend role", true},
		{"  re : spacing", true},
		{"AW: German reply", true},
		{"Regarding your application", false},
		{"Backend role", false},
	}
	for _, tt := range tests {
		m := &InboundMessage{Subject: tt.subject}
		assert.Equal(t, tt.want, m.HasReplySubject(), tt.subject)
	}

	assert.True(t, (&InboundMessage{InReplyTo: "x@y"}).HasReplyHeaders())
	assert.True(t, (&InboundMessage{References: []string{"x@y"}}).HasReplyHeaders())
	assert.False(t, (&InboundMessage{}).HasReplyHeaders())
}

func TestInboundMessage_BodyPreference(t *testing.T) {
	assert.Equal(t, "plain", (&InboundMessage{PlainBody: "plain", HTMLBody: "<p>html</p>", Snippet: "snip"}).Body())
	assert.Equal(t, "<p>html</p>", (&InboundMessage{HTMLBody: "<p>html</p>", Snippet: "snip"}).Body())
	assert.Equal(t, "snip", (&InboundMessage{Snippet: "snip"}).Body())
}
