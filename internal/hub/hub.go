// Package hub fans out bridge events to live dashboard sessions and hands
// them to an offline dispatcher when no session is connected.
package hub

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/registry"
)

// EventType identifies the kind of event flowing through the hub.
type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventStatusChanged  EventType = "status_changed"
	EventAnnouncement   EventType = "announcement"
	EventAgentOnline    EventType = "agent_online"
	EventAgentOffline   EventType = "agent_offline"
)

// Event is a single bridge event. Message is set for message_created and
// announcement events, Status for status_changed.
type Event struct {
	Type     EventType       `json:"type"`
	ThreadID string          `json:"thread_id,omitempty"`
	Agent    string          `json:"agent,omitempty"`
	Message  *models.Message `json:"message,omitempty"`
	Status   *registry.Entry `json:"status,omitempty"`
	Time     time.Time       `json:"time"`
}

// Notification is the payload handed to the offline dispatcher when no
// dashboard session is live.
type Notification struct {
	Recipient string
	Title     string
	Body      string
	DeepLink  string
}

// OfflineDispatcher delivers a notification when no dashboard is connected.
// Implementations live in the notify package; delivery failures are logged
// by the hub, never fatal.
type OfflineDispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Default sizing for the publish queue and per-subscriber buffers.
const (
	DefaultQueueSize        = 1024
	DefaultSubscriberBuffer = 64
)

// sendBudget bounds how long dispatch waits on one subscriber with a full
// buffer before dropping the event for that session.
const sendBudget = 100 * time.Millisecond

// Hub owns the subscriber registry and a single dispatch loop. Events are
// dispatched in publish order, which preserves per-thread ordering because
// the store publishes in commit order.
type Hub struct {
	queue   chan Event
	offline OfflineDispatcher
	subBuf  int
	out     io.Writer

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Opts holds parameters for creating a Hub.
type Opts struct {
	Offline          OfflineDispatcher // optional; nil disables offline hand-off
	QueueSize        int               // defaults to DefaultQueueSize
	SubscriberBuffer int               // defaults to DefaultSubscriberBuffer
	Out              io.Writer         // defaults to os.Stderr
}

// New creates a Hub. Run must be called for events to flow.
func New(opts Opts) *Hub {
	qs := opts.QueueSize
	if qs <= 0 {
		qs = DefaultQueueSize
	}
	sb := opts.SubscriberBuffer
	if sb <= 0 {
		sb = DefaultSubscriberBuffer
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	return &Hub{
		queue:   make(chan Event, qs),
		offline: opts.Offline,
		subBuf:  sb,
		out:     out,
		subs:    make(map[uint64]*Subscription),
	}
}

// Run drives the dispatch loop until ctx is cancelled. Events queued at
// cancellation time are drained before returning so a publish that was
// accepted is never silently discarded.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case evt := <-h.queue:
			h.dispatch(ctx, evt)
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			h.mu.Unlock()
			for {
				select {
				case evt := <-h.queue:
					h.dispatch(context.Background(), evt)
				default:
					return
				}
			}
		}
	}
}

// Publish queues an event for dispatch. It never blocks the caller beyond
// the queue buffer; a full queue drops the event with a log line rather
// than stalling agent connections.
func (h *Hub) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	select {
	case h.queue <- evt:
	default:
		fmt.Fprintf(h.out, "hub: publish queue full, dropping %s event\n", evt.Type)
	}
}

// Subscription is one live dashboard session's event feed.
type Subscription struct {
	id      uint64
	ch      chan Event
	hub     *Hub
	dropped int
}

// Events returns the subscription's receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close removes the subscription from the hub and closes its channel.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.id]; !ok {
		return
	}
	delete(s.hub.subs, s.id)
	close(s.ch)
}

// Subscribe registers a new live session and returns its feed. The caller
// must Close the subscription when the session ends.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, ch: make(chan Event, h.subBuf), hub: h}
	h.subs[sub.id] = sub
	return sub
}

// SessionCount returns the number of live subscriptions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// dispatch forwards one event to every live subscriber, or to the offline
// dispatcher exactly once when no subscriber is live.
func (h *Hub) dispatch(ctx context.Context, evt Event) {
	h.mu.Lock()
	if len(h.subs) == 0 {
		h.mu.Unlock()
		h.dispatchOffline(ctx, evt)
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- evt:
			continue
		default:
		}
		// Buffer full: a draining consumer gets a short window to catch
		// up. Only a genuinely stalled dashboard loses the event, and it
		// reconciles by re-reading the store.
		wait := time.NewTimer(sendBudget)
		select {
		case sub.ch <- evt:
			wait.Stop()
		case <-wait.C:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				fmt.Fprintf(h.out, "hub: subscriber %d lagging, %d events dropped\n", sub.id, sub.dropped)
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) dispatchOffline(ctx context.Context, evt Event) {
	if h.offline == nil {
		return
	}
	n, ok := evt.notification()
	if !ok {
		return
	}
	if err := h.offline.Dispatch(ctx, n); err != nil {
		// Stale device refs and transport hiccups are delivery failures,
		// not system errors.
		fmt.Fprintf(h.out, "hub: offline dispatch failed: %v\n", err)
	}
}

// notification converts an event to its offline payload. Connection
// lifecycle events carry no payload and are not dispatched offline.
func (e Event) notification() (Notification, bool) {
	switch e.Type {
	case EventMessageCreated:
		if e.Message == nil {
			return Notification{}, false
		}
		return Notification{
			Recipient: e.Message.ToAgent,
			Title:     "Message from " + e.Message.FromAgent,
			Body:      preview(e.Message.Body),
			DeepLink:  "switchboard://thread/" + e.Message.ThreadID,
		}, true
	case EventAnnouncement:
		if e.Message == nil {
			return Notification{}, false
		}
		return Notification{
			Recipient: e.Message.ToAgent,
			Title:     "[" + e.Message.Announcement + "] " + e.Message.FromAgent,
			Body:      preview(e.Message.Body),
			DeepLink:  "switchboard://thread/" + e.Message.ThreadID,
		}, true
	case EventStatusChanged:
		if e.Status == nil {
			return Notification{}, false
		}
		return Notification{
			Recipient: "user",
			Title:     e.Agent + " is " + string(e.Status.Status),
			Body:      preview(e.Status.Description),
			DeepLink:  "switchboard://agents/" + e.Agent,
		}, true
	}
	return Notification{}, false
}

// preview truncates a body for notification display, backing off to a rune
// boundary so a multi-byte character is never split.
func preview(s string) string {
	const max = 140
	if len(s) <= max {
		return s
	}
	cut := max - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
