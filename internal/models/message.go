package models

import "time"

// Message kinds.
const (
	KindMessage      = "message"
	KindStatus       = "status"
	KindAnnouncement = "announcement"
	KindSystem       = "system"
)

// Announcement classifications, ordered by urgency.
const (
	AnnounceBlocker    = "blocker"
	AnnounceQuestion   = "question"
	AnnounceCompletion = "completion"
)

// Delivery statuses. A message moves pending → delivered → read, or to
// failed. Read is also tracked as a flag for cheap unread queries.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// Message is a single unit of agent/operator communication. ID, FromAgent
// and CreatedAt are immutable after creation; only DeliveryStatus and Read
// transition afterwards.
type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	FromAgent      string    `gorm:"size:64;not null;index" json:"from"`
	ToAgent        string    `gorm:"size:64;not null;index" json:"to"`
	ThreadID       string    `gorm:"size:128;not null;index:idx_thread_created" json:"thread_id"`
	Kind           string    `gorm:"size:16;default:message" json:"kind"`
	Announcement   string    `gorm:"size:16" json:"announcement,omitempty"`
	Body           string    `gorm:"type:text" json:"body"`
	Metadata       string    `gorm:"type:json" json:"metadata,omitempty"`
	DeliveryStatus string    `gorm:"size:16;default:pending;index" json:"delivery_status"`
	Read           bool      `gorm:"default:false;index" json:"read"`
	CreatedAt      time.Time `gorm:"index:idx_thread_created" json:"created_at"`
}

// ValidKind reports whether k is a known message kind.
func ValidKind(k string) bool {
	switch k {
	case KindMessage, KindStatus, KindAnnouncement, KindSystem:
		return true
	}
	return false
}

// ValidAnnouncement reports whether a is a known announcement type.
func ValidAnnouncement(a string) bool {
	switch a {
	case AnnounceBlocker, AnnounceQuestion, AnnounceCompletion:
		return true
	}
	return false
}

// AnnouncementPriority maps an announcement type to a priority tier
// (0 = most urgent).
func AnnouncementPriority(a string) int {
	switch a {
	case AnnounceBlocker:
		return 0
	case AnnounceQuestion:
		return 1
	default:
		return 2
	}
}
