package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendRequestValidate(t *testing.T) {
	ok := &SendRequest{UserID: "u1", Recipient: "a@b.com", Subject: "  Hello ", Body: " Hi "}
	assert.NoError(t, ok.Validate())
	assert.Equal(t, "Hello", ok.Subject)
	assert.Equal(t, "Hi", ok.Body)

	bad := []*SendRequest{
		{Recipient: "a@b.com", Subject: "s", Body: "b"},
		{UserID: "u1", Recipient: "a@b.com", Body: "b"},
		{UserID: "u1", Recipient: "a@b.com", Subject: "s"},
		{UserID: "u1", Recipient: "a@b.com", Subject: "a\r\nBcc: x@y.com", Body: "b"},
	}
	for _, r := range bad {
		assert.ErrorIs(t, r.Validate(), ErrInvalidRequest)
	}
}

func TestPolicyErrors(t *testing.T) {
	var err error = &CooldownError{Recipient: "a@b.com", DaysRemaining: 4, BlockedUntil: time.Now()}
	var cd *CooldownError
	assert.True(t, errors.As(err, &cd))
	assert.Contains(t, err.Error(), "4 more day")

	err = &DailyLimitError{Limit: 50, SentToday: 50}
	assert.Contains(t, err.Error(), "50")
}
