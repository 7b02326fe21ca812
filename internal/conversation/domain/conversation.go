package domain

import (
	"errors"
	"time"
)

var (
	ErrThreadNotFound  = errors.New("conversation thread not found")
	ErrMessageNotFound = errors.New("conversation message not found")
	// ErrConflict is returned when the counter update kept losing races.
	ErrConflict = errors.New("conversation thread update conflict")
	// ErrInvalidMessage rejects messages without a sender type or provider id.
	ErrInvalidMessage = errors.New("invalid conversation message")
)

type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderRecruiter SenderType = "recruiter"
)

func (s SenderType) Valid() bool {
	return s == SenderUser || s == SenderRecruiter
}

type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadReplied  ThreadStatus = "replied"
	ThreadArchived ThreadStatus = "archived"
)

// MessageStatus is the delivery state of a message. Outbound messages move
// forward through sent, delivered, opened and clicked; replied outranks
// them all. Bounced can be entered from anywhere and is terminal.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusOpened    MessageStatus = "opened"
	StatusClicked   MessageStatus = "clicked"
	StatusReplied   MessageStatus = "replied"
	StatusBounced   MessageStatus = "bounced"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusOpened:    3,
	StatusClicked:   4,
	StatusReplied:   5,
}

// Advance returns the status after observing next.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if s == StatusBounced {
		return s
	}
	if next == StatusBounced {
		return next
	}
	if statusRank[next] > statusRank[s] {
		return next
	}
	return s
}

// Thread aggregates all messages between one user and one recruiter address.
type Thread struct {
	ID                     string       `json:"id" gorm:"primaryKey"`
	UserID                 string       `json:"user_id" gorm:"not null;uniqueIndex:idx_thread_user_recruiter"`
	RecruiterEmail         string       `json:"recruiter_email" gorm:"not null;uniqueIndex:idx_thread_user_recruiter"`
	RecruiterName          string       `json:"recruiter_name"`
	CompanyName            string       `json:"company_name"`
	SubjectLine            string       `json:"subject_line"`
	Status                 ThreadStatus `json:"status" gorm:"not null;default:active;index"`
	FirstContactAt         time.Time    `json:"first_contact_at"`
	LastActivityAt         time.Time    `json:"last_activity_at" gorm:"index"`
	LastUserMessageAt      *time.Time   `json:"last_user_message_at"`
	LastRecruiterMessageAt *time.Time   `json:"last_recruiter_message_at"`
	TotalMessages          int          `json:"total_messages" gorm:"not null;default:0"`
	UserMessagesCount      int          `json:"user_messages_count" gorm:"not null;default:0"`
	RecruiterMessagesCount int          `json:"recruiter_messages_count" gorm:"not null;default:0"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

func (Thread) TableName() string {
	return "conversation_threads"
}

// ThreadDefaults seeds a thread on first contact.
type ThreadDefaults struct {
	RecruiterName string
	CompanyName   string
	SubjectLine   string
}

// Message is one email in a thread. MessageNumber starts at 1 and is unique
// per thread, as is ProviderMessageID.
type Message struct {
	ID                string        `json:"id" gorm:"primaryKey"`
	ThreadID          string        `json:"thread_id" gorm:"not null;uniqueIndex:idx_message_thread_number;uniqueIndex:idx_message_thread_provider"`
	SenderType        SenderType    `json:"sender_type" gorm:"not null"`
	Subject           string        `json:"subject"`
	BodyPreview       string        `json:"body_preview"`
	BodyFull          string        `json:"body_full,omitempty"`
	SentAt            time.Time     `json:"sent_at"`
	MessageNumber     int           `json:"message_number" gorm:"not null;uniqueIndex:idx_message_thread_number"`
	Status            MessageStatus `json:"status" gorm:"not null;default:sent"`
	OpenedAt          *time.Time    `json:"opened_at"`
	ClickedAt         *time.Time    `json:"clicked_at"`
	ProviderMessageID string        `json:"provider_message_id" gorm:"not null;uniqueIndex:idx_message_thread_provider;index"`
	ProviderThreadID  string        `json:"provider_thread_id" gorm:"index"`
	MessageIDHeader   string        `json:"message_id_header,omitempty"`
	InReplyTo         string        `json:"in_reply_to,omitempty"`
	TrackingToken     string        `json:"tracking_token,omitempty" gorm:"index"`
	CreatedAt         time.Time     `json:"created_at"`
}

func (Message) TableName() string {
	return "conversation_messages"
}

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	SenderType        SenderType
	Subject           string
	Body              string
	SentAt            time.Time
	ProviderMessageID string
	ProviderThreadID  string
	MessageIDHeader   string
	InReplyTo         string
	TrackingToken     string
}

// AppendResult is either the inserted message or the existing duplicate.
type AppendResult struct {
	Message   *Message
	Duplicate bool
}

// DeliveryState is a tracking update to copy onto a message.
type DeliveryState struct {
	Status    MessageStatus
	OpenedAt  *time.Time
	ClickedAt *time.Time
}
