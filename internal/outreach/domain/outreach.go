package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrProvider wraps failures of the mailbox provider during a send.
	ErrProvider = errors.New("mail provider failed")
	// ErrInvalidRequest wraps validation failures of a send request.
	ErrInvalidRequest = errors.New("invalid send request")
)

const maxSubjectLength = 998

// CooldownError rejects a send while the recipient is still blocked.
type CooldownError struct {
	Recipient     string
	DaysRemaining int
	BlockedUntil  time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("recipient %s is on cooldown for %d more day(s)", e.Recipient, e.DaysRemaining)
}

// DailyLimitError rejects a send once the user's daily quota is used up.
type DailyLimitError struct {
	Limit     int
	SentToday int64
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily send limit of %d reached", e.Limit)
}

// SendRequest is one outbound email composed by the user.
type SendRequest struct {
	UserID        string
	Recipient     string
	Subject       string
	Body          string
	RecruiterName string
	CompanyName   string
}

// Validate trims the request and checks required fields.
func (r *SendRequest) Validate() error {
	r.Subject = strings.TrimSpace(r.Subject)
	r.Body = strings.TrimSpace(r.Body)
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	case r.Subject == "":
		return fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	case len(r.Subject) > maxSubjectLength:
		return fmt.Errorf("%w: subject is too long", ErrInvalidRequest)
	case strings.ContainsAny(r.Subject, "\r\n"):
		return fmt.Errorf("%w: subject must be a single line", ErrInvalidRequest)
	case r.Body == "":
		return fmt.Errorf("%w: body is required", ErrInvalidRequest)
	}
	return nil
}

// SendResult identifies the accepted send.
type SendResult struct {
	TrackingToken     string `json:"tracking_token"`
	ProviderMessageID string `json:"provider_message_id"`
	ThreadID          string `json:"thread_id"`
	MessageNumber     int    `json:"message_number"`
}
