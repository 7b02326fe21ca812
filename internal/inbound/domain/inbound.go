package domain

import (
	"fmt"
	"strings"

	mailboxdomain "outreach-backend/internal/mailbox/domain"
)

// ReplyMode selects how an inbound message is recognised as a reply.
type ReplyMode string

const (
	// ReplyHeuristic accepts a reply subject prefix or reply headers.
	ReplyHeuristic ReplyMode = "heuristic"
	// ReplyThread requires the provider thread to match a stored message.
	ReplyThread ReplyMode = "thread"
	// ReplyEither accepts whichever of the two matches.
	ReplyEither ReplyMode = "either"
)

func ParseReplyMode(raw string) (ReplyMode, error) {
	switch mode := ReplyMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ReplyHeuristic, nil
	case ReplyHeuristic, ReplyThread, ReplyEither:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown reply detection mode %q", raw)
	}
}

// LooksLikeReply applies the subject and header heuristic.
func LooksLikeReply(msg *mailboxdomain.InboundMessage) bool {
	return msg.HasReplySubject() || msg.HasReplyHeaders()
}

// Outcome classifies what happened to one inbound candidate.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSelfSent  Outcome = "self_sent"
	OutcomeNoThread  Outcome = "no_thread"
	OutcomeNotReply  Outcome = "not_reply"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// Summary is the result of a poll run. Processed counts recruiter messages
// newly recorded; Errors counts accounts whose batch failed.
type Summary struct {
	Processed       int `json:"processed"`
	Errors          int `json:"errors"`
	AccountsChecked int `json:"accounts_checked"`
	Skipped         int `json:"skipped"`
	Duplicates      int `json:"duplicates"`
}

// Add folds one message outcome into the summary.
func (s *Summary) Add(o Outcome) {
	switch o {
	case OutcomeRecorded:
		s.Processed++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeFailed:
	default:
		s.Skipped++
	}
}

// Merge adds other into s.
func (s *Summary) Merge(other Summary) {
	s.Processed += other.Processed
	s.Errors += other.Errors
	s.AccountsChecked += other.AccountsChecked
	s.Skipped += other.Skipped
	s.Duplicates += other.Duplicates
}
