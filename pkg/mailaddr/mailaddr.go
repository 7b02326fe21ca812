// Package mailaddr normalizes email addresses used as cooldown and thread keys.
package mailaddr

import (
	"errors"
	"net/mail"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid email address")

// Normalize lower-cases and trims an address. It does not validate.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Parse validates a bare or display-name address and returns the normalized
// address together with the display name, if any.
func Parse(raw string) (address, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrInvalidAddress
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return "", "", ErrInvalidAddress
	}
	return Normalize(parsed.Address), strings.TrimSpace(parsed.Name), nil
}

// Domain returns the part after the last '@', lower-cased.
func Domain(addr string) string {
	addr = Normalize(addr)
	if idx := strings.LastIndex(addr, "@"); idx >= 0 && idx < len(addr)-1 {
		return addr[idx+1:]
	}
	return ""
}

// Equal compares two addresses case-insensitively.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
