// Package store is the durable message store. All writes go through a
// single serialized lane; reads run concurrently against the WAL file.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors matched with errors.Is by callers.
var (
	ErrNotFound = errors.New("store: not found")
	ErrInvalid  = errors.New("store: invalid")
)

// Publisher receives an event after each successful insert. The hub
// satisfies this; tests inject recorders.
type Publisher interface {
	Publish(evt hub.Event)
}

// Store wraps the database with write serialization and event emission.
type Store struct {
	g   *gorm.DB
	pub Publisher

	// Write lane. Go mutexes hand off FIFO under contention, which gives
	// the fair queuing the write path needs.
	mu sync.Mutex
}

// New creates a Store. pub may be nil (CLI usage, tests).
func New(g *gorm.DB, pub Publisher) *Store {
	return &Store{g: g, pub: pub}
}

// DB exposes the underlying handle for read-only dashboard queries.
func (s *Store) DB() *gorm.DB {
	return s.g
}

// Insert validates and persists a message, filling ID, thread, and
// timestamps. On success the message is durable before the event is
// published; a crash after return cannot lose it.
func (s *Store) Insert(msg *models.Message) error {
	if msg.FromAgent == "" {
		return fmt.Errorf("%w: from is required", ErrInvalid)
	}
	if msg.ToAgent == "" {
		return fmt.Errorf("%w: to is required", ErrInvalid)
	}
	if msg.Kind == "" {
		msg.Kind = models.KindMessage
	}
	if !models.ValidKind(msg.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, msg.Kind)
	}
	if msg.Kind == models.KindAnnouncement && !models.ValidAnnouncement(msg.Announcement) {
		return fmt.Errorf("%w: unknown announcement type %q", ErrInvalid, msg.Announcement)
	}
	if msg.Kind != models.KindAnnouncement && msg.Announcement != "" {
		return fmt.Errorf("%w: announcement type set on %s message", ErrInvalid, msg.Kind)
	}

	if msg.ID == "" {
		// v7 ids sort by creation time, so the cursor tie-break on id
		// follows insertion order.
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("store: insert: %w", err)
		}
		msg.ID = id.String()
	}
	if msg.ThreadID == "" {
		agent := msg.FromAgent
		if agent == "user" {
			agent = msg.ToAgent
		}
		msg.ThreadID = models.CanonicalThread(agent)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	// Timestamps are stored as text carrying the value's own offset, and
	// sqlite compares text lexically. Normalizing to UTC keeps cursor
	// predicates correct regardless of the host timezone.
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = models.DeliveryPending
	}

	// Publishing inside the write lane guarantees broadcast order matches
	// commit order for a thread. Publish never blocks, so the lane stays
	// cheap to hold.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.g.Create(msg).Error; err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	if s.pub != nil {
		s.pub.Publish(s.insertEvent(msg))
	}
	return nil
}

// insertEvent maps a persisted message to its hub event. Announcements get
// their own event type so the notification queue can classify them; status
// messages ride the message-created channel, with the richer status-changed
// event published by the gateway alongside the registry update.
func (s *Store) insertEvent(msg *models.Message) hub.Event {
	typ := hub.EventMessageCreated
	if msg.Kind == models.KindAnnouncement {
		typ = hub.EventAnnouncement
	}
	copied := *msg
	return hub.Event{
		Type:     typ,
		ThreadID: msg.ThreadID,
		Agent:    msg.FromAgent,
		Message:  &copied,
		Time:     msg.CreatedAt,
	}
}

// Get returns a single message by ID.
func (s *Store) Get(id string) (*models.Message, error) {
	var msg models.Message
	if err := s.g.Where("id = ?", id).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return &msg, nil
}

// MarkRead marks a message read. Idempotent: marking an already-read
// message is a no-op, not an error.
func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.g.Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"read": true, "delivery_status": models.DeliveryRead})
	if result.Error != nil {
		return fmt.Errorf("store: mark read %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, id)
	}
	return nil
}

// MarkDelivered advances pending messages to delivered when a reader has
// seen them. Already-read messages are left alone.
func (s *Store) MarkDelivered(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.g.Model(&models.Message{}).
		Where("id IN ? AND delivery_status = ?", ids, models.DeliveryPending).
		Update("delivery_status", models.DeliveryDelivered).Error
	if err != nil {
		return fmt.Errorf("store: mark delivered: %w", err)
	}
	return nil
}
