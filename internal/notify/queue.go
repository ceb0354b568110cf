// Package notify orders and deduplicates announcements before playback,
// and carries offline notifications when no dashboard is live.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// Announcement is one queued alert. Priority is a tier (0 = most urgent);
// emission is FIFO within a tier.
type Announcement struct {
	ID       string
	Type     string // blocker, question, completion
	Agent    string
	ThreadID string
	Body     string
	Priority int
}

// Sink receives announcements one at a time. An emission is never
// interrupted once started.
type Sink interface {
	Emit(ctx context.Context, a Announcement) error
}

// seenWindow bounds the dedup memory: ids currently queued plus this many
// recently emitted.
const seenWindow = 256

// Queue is the announcement queue. Higher-priority tiers preempt lower
// ones only between emissions.
type Queue struct {
	sink Sink
	out  io.Writer

	mu        sync.Mutex
	tiers     map[int][]Announcement
	seen      map[string]bool
	seenOrder []string
	wake      chan struct{}
}

// QueueOpts holds parameters for creating a Queue.
type QueueOpts struct {
	Sink Sink
	Out  io.Writer // defaults to os.Stderr
}

// NewQueue creates a Queue. Run must be called for items to drain.
func NewQueue(opts QueueOpts) (*Queue, error) {
	if opts.Sink == nil {
		return nil, fmt.Errorf("notify: sink is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	return &Queue{
		sink:  opts.Sink,
		out:   out,
		tiers: make(map[int][]Announcement),
		seen:  make(map[string]bool),
		wake:  make(chan struct{}, 1),
	}, nil
}

// Enqueue adds an announcement. A duplicate id within the current queue
// window is dropped silently.
func (q *Queue) Enqueue(a Announcement) {
	if a.ID == "" {
		return
	}
	q.mu.Lock()
	if q.seen[a.ID] {
		q.mu.Unlock()
		return
	}
	q.seen[a.ID] = true
	q.seenOrder = append(q.seenOrder, a.ID)
	if len(q.seenOrder) > seenWindow {
		evict := q.seenOrder[0]
		q.seenOrder = q.seenOrder[1:]
		delete(q.seen, evict)
	}
	q.tiers[a.Priority] = append(q.tiers[a.Priority], a)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued announcements.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, tier := range q.tiers {
		n += len(tier)
	}
	return n
}

// Run drains the queue until ctx is cancelled, emitting one announcement
// at a time. A sink failure is retried once, then the item is dropped so
// a dead playback device cannot build unbounded backlog.
func (q *Queue) Run(ctx context.Context) {
	for {
		a, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if err := q.sink.Emit(ctx, a); err != nil {
			if err = q.sink.Emit(ctx, a); err != nil {
				fmt.Fprintf(q.out, "notify: dropping %s after retry: %v\n", a.ID, err)
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the head of the most urgent non-empty tier.
func (q *Queue) next() (Announcement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tiers) == 0 {
		return Announcement{}, false
	}
	prios := make([]int, 0, len(q.tiers))
	for p, items := range q.tiers {
		if len(items) > 0 {
			prios = append(prios, p)
		}
	}
	if len(prios) == 0 {
		return Announcement{}, false
	}
	sort.Ints(prios)
	p := prios[0]
	a := q.tiers[p][0]
	q.tiers[p] = q.tiers[p][1:]
	if len(q.tiers[p]) == 0 {
		delete(q.tiers, p)
	}
	return a, true
}
