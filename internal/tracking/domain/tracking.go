package domain

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var (
	ErrRecordNotFound = errors.New("tracking record not found")
	ErrConflict       = errors.New("tracking record update conflict")
	ErrUnknownEvent   = errors.New("unknown tracking event type")
)

// Status is the delivery state of a tracked send. It only moves forward
// through sent, delivered, opened and clicked. Bounced is reachable from
// any state and terminal. Replies are tracked by RepliedAt, not here.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusOpened    Status = "opened"
	StatusClicked   Status = "clicked"
	StatusBounced   Status = "bounced"
)

var statusRank = map[Status]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusOpened:    3,
	StatusClicked:   4,
}

// Advance returns the most informative of s and next.
func (s Status) Advance(next Status) Status {
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

type EventType string

const (
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventBounced   EventType = "bounced"
)

// Status returns the record status an event implies.
func (e EventType) Status() Status {
	switch e {
	case EventDelivered:
		return StatusDelivered
	case EventOpened:
		return StatusOpened
	case EventClicked:
		return StatusClicked
	case EventBounced:
		return StatusBounced
	default:
		return StatusSent
	}
}

// ParseWebhookEventType maps provider event names such as "email.opened"
// onto event types.
func ParseWebhookEventType(raw string) (EventType, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, "email.")
	switch name {
	case "sent":
		return EventSent, nil
	case "delivered":
		return EventDelivered, nil
	case "opened", "open":
		return EventOpened, nil
	case "clicked", "click":
		return EventClicked, nil
	case "bounced", "bounce":
		return EventBounced, nil
	}
	return "", ErrUnknownEvent
}

// Event sources
const (
	SourcePixel   = "pixel"
	SourceWebhook = "webhook"
)

// Event is one observation about a tracked send. Either Token or
// ProviderMessageID identifies the record.
type Event struct {
	Type              EventType
	Token             string
	ProviderMessageID string
	URL               string
	At                time.Time
	Source            string
}

type ClickLink struct {
	URL       string    `json:"url"`
	ClickedAt time.Time `json:"clicked_at"`
}

// Record tracks one outbound send. Version guards concurrent updates.
type Record struct {
	Token             string                         `json:"tracking_token" gorm:"primaryKey"`
	UserID            string                         `json:"user_id" gorm:"not null;index:idx_tracking_user_sent"`
	ThreadID          string                         `json:"thread_id" gorm:"index"`
	ProviderMessageID string                         `json:"provider_message_id" gorm:"index"`
	Recipient         string                         `json:"recipient" gorm:"not null"`
	Domain            string                         `json:"domain" gorm:"index"`
	Subject           string                         `json:"subject"`
	SentAt            time.Time                      `json:"sent_at" gorm:"not null;index:idx_tracking_user_sent"`
	DeliveredAt       *time.Time                     `json:"delivered_at"`
	OpenedAt          *time.Time                     `json:"opened_at"`
	ClickedAt         *time.Time                     `json:"clicked_at"`
	BouncedAt         *time.Time                     `json:"bounced_at"`
	RepliedAt         *time.Time                     `json:"replied_at"`
	Status            Status                         `json:"status" gorm:"not null;default:sent"`
	OpenCount         int                            `json:"open_count" gorm:"not null;default:0"`
	ClickLinks        datatypes.JSONSlice[ClickLink] `json:"click_links"`
	Version           int                            `json:"-" gorm:"not null;default:1"`
	CreatedAt         time.Time                      `json:"created_at"`
	UpdatedAt         time.Time                      `json:"updated_at"`
}

func (Record) TableName() string {
	return "email_tracking"
}

// Apply folds ev into the record and reports whether anything changed.
// First-set timestamps are never overwritten and click links only grow.
func (r *Record) Apply(ev Event) bool {
	at := ev.At.UTC()
	changed := false
	setOnce := func(field **time.Time) {
		if *field == nil {
			t := at
			*field = &t
			changed = true
		}
	}

	switch ev.Type {
	case EventDelivered:
		setOnce(&r.DeliveredAt)
	case EventOpened:
		setOnce(&r.OpenedAt)
		r.OpenCount++
		changed = true
	case EventClicked:
		setOnce(&r.ClickedAt)
		if ev.URL != "" {
			r.ClickLinks = append(r.ClickLinks, ClickLink{URL: ev.URL, ClickedAt: at})
			changed = true
		}
	case EventBounced:
		setOnce(&r.BouncedAt)
	}

	if next := r.Status.Advance(ev.Type.Status()); next != r.Status {
		r.Status = next
		changed = true
	}
	return changed
}

// NewRecord is the input for a freshly sent message.
type NewRecord struct {
	Token             string
	UserID            string
	ThreadID          string
	ProviderMessageID string
	Recipient         string
	Subject           string
	SentAt            time.Time
}

// Stats summarises a user's tracked sends.
type Stats struct {
	Total     int64   `json:"total"`
	Delivered int64   `json:"delivered"`
	Opened    int64   `json:"opened"`
	Clicked   int64   `json:"clicked"`
	Bounced   int64   `json:"bounced"`
	Replied   int64   `json:"replied"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
	ReplyRate float64 `json:"reply_rate"`
}

// ComputeRates fills the rate fields from the counts.
func (s *Stats) ComputeRates() {
	if s.Total == 0 {
		return
	}
	total := float64(s.Total)
	s.OpenRate = float64(s.Opened) / total
	s.ClickRate = float64(s.Clicked) / total
	s.ReplyRate = float64(s.Replied) / total
}
