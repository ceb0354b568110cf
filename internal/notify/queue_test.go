package notify

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingSink records emissions with their time windows.
type recordingSink struct {
	mu      sync.Mutex
	emitted []Announcement
	windows [][2]time.Time
	delay   time.Duration
	failFor map[string]int // id -> remaining failures
}

func (s *recordingSink) Emit(ctx context.Context, a Announcement) error {
	start := time.Now()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[a.ID] > 0 {
		s.failFor[a.ID]--
		return fmt.Errorf("device unavailable")
	}
	s.emitted = append(s.emitted, a)
	s.windows = append(s.windows, [2]time.Time{start, time.Now()})
	return nil
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.emitted))
	for i, a := range s.emitted {
		out[i] = a.ID
	}
	return out
}

func startQueue(t *testing.T, sink Sink, out *bytes.Buffer) *Queue {
	t.Helper()
	opts := QueueOpts{Sink: sink}
	if out != nil {
		opts.Out = out
	}
	q, err := NewQueue(opts)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never met")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNewQueue_RequiresSink(t *testing.T) {
	if _, err := NewQueue(QueueOpts{}); err == nil {
		t.Fatal("expected error for missing sink")
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	sink := &recordingSink{}
	q := startQueue(t, sink, nil)

	for i := 0; i < 5; i++ {
		q.Enqueue(Announcement{ID: fmt.Sprintf("a%d", i), Type: "completion", Priority: 2})
	}
	waitFor(t, func() bool { return len(sink.ids()) == 5 })

	for i, id := range sink.ids() {
		if want := fmt.Sprintf("a%d", i); id != want {
			t.Errorf("emitted[%d] = %s, want %s", i, id, want)
		}
	}
}

func TestQueue_MixedTypesSamePriorityStayFIFO(t *testing.T) {
	// Three announcements of different types but equal priority arrive in
	// quick succession: arrival order wins.
	sink := &recordingSink{delay: 5 * time.Millisecond}
	q := startQueue(t, sink, nil)

	q.Enqueue(Announcement{ID: "blk", Type: "blocker", Priority: 1})
	q.Enqueue(Announcement{ID: "cmp", Type: "completion", Priority: 1})
	q.Enqueue(Announcement{ID: "qst", Type: "question", Priority: 1})

	waitFor(t, func() bool { return len(sink.ids()) == 3 })
	got := sink.ids()
	if got[0] != "blk" || got[1] != "cmp" || got[2] != "qst" {
		t.Errorf("order = %v", got)
	}

	// Emission windows never overlap.
	sink.mu.Lock()
	windows := append([][2]time.Time(nil), sink.windows...)
	sink.mu.Unlock()
	for i := 1; i < len(windows); i++ {
		if windows[i][0].Before(windows[i-1][1]) {
			t.Errorf("emission %d started before %d finished", i, i-1)
		}
	}
}

func TestQueue_PriorityPreemptsBetweenEmissions(t *testing.T) {
	sink := &recordingSink{delay: 20 * time.Millisecond}
	q := startQueue(t, sink, nil)

	q.Enqueue(Announcement{ID: "low1", Priority: 2})
	q.Enqueue(Announcement{ID: "low2", Priority: 2})
	// Arrives while low1 is (likely) in flight; must jump ahead of low2
	// but never interrupt low1.
	time.Sleep(5 * time.Millisecond)
	q.Enqueue(Announcement{ID: "urgent", Priority: 0})

	waitFor(t, func() bool { return len(sink.ids()) == 3 })
	got := sink.ids()
	if got[0] != "low1" {
		t.Fatalf("first emission = %s", got[0])
	}
	if got[1] != "urgent" {
		t.Errorf("order = %v, urgent should preempt low2", got)
	}
}

func TestQueue_DuplicateDroppedSilently(t *testing.T) {
	sink := &recordingSink{}
	q := startQueue(t, sink, nil)

	q.Enqueue(Announcement{ID: "dup", Priority: 1})
	q.Enqueue(Announcement{ID: "dup", Priority: 1})
	q.Enqueue(Announcement{ID: "other", Priority: 1})

	waitFor(t, func() bool { return len(sink.ids()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := sink.ids(); len(got) != 2 {
		t.Errorf("emitted = %v", got)
	}
}

func TestQueue_RetryOnceThenDrop(t *testing.T) {
	var out bytes.Buffer
	sink := &recordingSink{failFor: map[string]int{"flaky": 1, "dead": 5}}
	q := startQueue(t, sink, &out)

	q.Enqueue(Announcement{ID: "flaky", Priority: 1}) // fails once, retry succeeds
	q.Enqueue(Announcement{ID: "dead", Priority: 1})  // fails twice, dropped
	q.Enqueue(Announcement{ID: "after", Priority: 1}) // still flows

	waitFor(t, func() bool {
		ids := sink.ids()
		return len(ids) == 2 && ids[len(ids)-1] == "after"
	})
	if got := sink.ids(); got[0] != "flaky" {
		t.Errorf("emitted = %v", got)
	}
	if !bytes.Contains(out.Bytes(), []byte("dropping dead")) {
		t.Errorf("drop not logged: %q", out.String())
	}
	if q.Pending() != 0 {
		t.Errorf("Pending = %d, dropped item requeued?", q.Pending())
	}
}

func TestQueue_EmptyIDIgnored(t *testing.T) {
	sink := &recordingSink{}
	q := startQueue(t, sink, nil)
	q.Enqueue(Announcement{Priority: 1})
	time.Sleep(20 * time.Millisecond)
	if len(sink.ids()) != 0 {
		t.Error("announcement without id should be ignored")
	}
}
