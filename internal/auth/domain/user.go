package domain

import "time"

const (
	ProviderGoogle = "google"
	ProviderIMAP   = "imap"
)

type User struct {
	ID        string `json:"id" gorm:"primaryKey"`
	Email     string `json:"email" gorm:"uniqueIndex;not null"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Provider  string `json:"provider"` // "google" or "imap"

	// OAuth tokens for Gmail accounts. Never serialized.
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`

	// IMAP/SMTP settings. ImapPassword is AES-GCM encrypted at rest.
	ImapServer   string `json:"imap_server,omitempty"`
	ImapPort     int    `json:"imap_port,omitempty"`
	SmtpServer   string `json:"smtp_server,omitempty"`
	SmtpPort     int    `json:"smtp_port,omitempty"`
	ImapPassword string `json:"-"`

	// DailySendLimit overrides the server default when positive.
	DailySendLimit int `json:"daily_send_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasMailbox reports whether the user has credentials for a connected mailbox.
func (u *User) HasMailbox() bool {
	switch u.Provider {
	case ProviderGoogle:
		return u.AccessToken != "" || u.RefreshToken != ""
	case ProviderIMAP:
		return u.ImapServer != "" && u.ImapPassword != ""
	}
	return false
}
