package domain

import (
	"testing"

	mailboxdomain "outreach-backend/internal/mailbox/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyMode(t *testing.T) {
	for raw, want := range map[string]ReplyMode{"": ReplyHeuristic, "Thread": ReplyThread, " either ": ReplyEither} {
		got, err := ParseReplyMode(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseReplyMode("strict")
	assert.Error(t, err)
}

func TestLooksLikeReply(t *testing.T) {
	assert.True(t, LooksLikeReply(&mailboxdomain.InboundMessage{Subject: "Re: Application"}))
	assert.True(t, LooksLikeReply(&mailboxdomain.InboundMessage{Subject: "AW: Bewerbung"}))
	assert.True(t, LooksLikeReply(&mailboxdomain.InboundMessage{Subject: "Quick note", InReplyTo: "x@y"}))
	assert.False(t, LooksLikeReply(&mailboxdomain.InboundMessage{Subject: "Regarding your profile"}))
}

func TestSummary(t *testing.T) {
	var s Summary
	for _, o := range []Outcome{OutcomeRecorded, OutcomeDuplicate, OutcomeNoThread, OutcomeNotReply, OutcomeFailed} {
		s.Add(o)
	}
	assert.Equal(t, Summary{Processed: 1, Duplicates: 1, Skipped: 2}, s)

	total := Summary{AccountsChecked: 1, Errors: 1}
	total.Merge(s)
	assert.Equal(t, 1, total.Processed)
	assert.Equal(t, 1, total.Errors)
}
