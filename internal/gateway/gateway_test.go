package gateway

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/mediator"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
)

// fakeBd records invocations and plays back canned output.
type fakeBd struct {
	mu       sync.Mutex
	calls    [][]string
	stdout   string
	exitCode int
}

func (f *fakeBd) run(ctx context.Context, dir, binary string, args []string) ([]byte, []byte, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	return []byte(f.stdout), nil, f.exitCode, nil
}

func (f *fakeBd) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type dropSink struct{}

func (dropSink) Emit(ctx context.Context, a notify.Announcement) error { return nil }

func newTestServer(t *testing.T, bd *fakeBd) (*Server, *store.Store, *hub.Hub) {
	t.Helper()

	g, err := db.Connect(filepath.Join(t.TempDir(), "switchboard.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(g); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := hub.New(hub.Opts{Out: io.Discard})
	st := store.New(g, h)
	queue, err := notify.NewQueue(notify.QueueOpts{Sink: dropSink{}, Out: io.Discard})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	srv, err := New(Opts{
		Store:    st,
		Registry: registry.New(),
		Mediator: mediator.New(mediator.Opts{Runner: bd.run, Timeout: time.Second}),
		Hub:      h,
		Queue:    queue,
		Project:  "demo",
		Port:     0,
		Out:      io.Discard,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, st, h
}

// identCtx simulates a request that arrived with identity headers.
func identCtx(agent string) context.Context {
	return context.WithValue(context.Background(), agentKey{}, agent)
}

func callReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestSendMessagePersists(t *testing.T) {
	srv, st, _ := newTestServer(t, &fakeBd{})

	res, err := srv.handleSendMessage(identCtx("claude-1"), callReq(map[string]interface{}{
		"to":   "user",
		"body": "build finished",
	}))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.IsError {
		t.Fatalf("send rejected: %s", resultText(t, res))
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(resultText(t, res)), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.FromAgent != "claude-1" || msg.ThreadID != "agent:claude-1" {
		t.Errorf("got from=%q thread=%q", msg.FromAgent, msg.ThreadID)
	}
	stored, err := st.Get(msg.ID)
	if err != nil {
		t.Fatalf("stored message missing: %v", err)
	}
	if stored.Body != "build finished" {
		t.Errorf("stored body = %q", stored.Body)
	}
}

func TestSendMessageReplyJoinsThread(t *testing.T) {
	srv, st, _ := newTestServer(t, &fakeBd{})

	parent := models.Message{FromAgent: "claude-1", ToAgent: "user", Body: "question"}
	if err := st.Insert(&parent); err != nil {
		t.Fatalf("insert parent: %v", err)
	}

	res, err := srv.handleSendMessage(identCtx("claude-2"), callReq(map[string]interface{}{
		"to":       "claude-1",
		"body":     "answer",
		"reply_to": parent.ID,
	}))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var msg models.Message
	if err := json.Unmarshal([]byte(resultText(t, res)), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ThreadID != parent.ThreadID {
		t.Errorf("reply thread = %q, want %q", msg.ThreadID, parent.ThreadID)
	}
}

func TestSendMessageUnknownReplyTo(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeBd{})

	res, err := srv.handleSendMessage(identCtx("claude-1"), callReq(map[string]interface{}{
		"to":       "user",
		"body":     "hi",
		"reply_to": "missing-id",
	}))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.IsError || !strings.HasPrefix(resultText(t, res), "not found:") {
		t.Errorf("want not-found result, got %q", resultText(t, res))
	}
}

func TestReadMessagesMarksDelivered(t *testing.T) {
	srv, st, _ := newTestServer(t, &fakeBd{})

	inbound := models.Message{FromAgent: "user", ToAgent: "claude-1", Body: "please review"}
	if err := st.Insert(&inbound); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := srv.handleReadMessages(identCtx("claude-1"), callReq(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.IsError {
		t.Fatalf("read rejected: %s", resultText(t, res))
	}

	stored, err := st.Get(inbound.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.DeliveryStatus != models.DeliveryDelivered {
		t.Errorf("delivery status = %q, want delivered", stored.DeliveryStatus)
	}
}

func TestReadMessagesBadCursor(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeBd{})

	res, err := srv.handleReadMessages(identCtx("claude-1"), callReq(map[string]interface{}{
		"before": "not-a-cursor",
	}))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !res.IsError || !strings.HasPrefix(resultText(t, res), "validation:") {
		t.Errorf("want validation result, got %q", resultText(t, res))
	}
}

func TestSetStatusUpdatesRegistryAndHistory(t *testing.T) {
	srv, st, h := newTestServer(t, &fakeBd{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	sub := h.Subscribe()
	defer sub.Close()

	res, err := srv.handleSetStatus(identCtx("claude-1"), callReq(map[string]interface{}{
		"status": "blocked",
		"task":   "sb-42",
	}))
	if err != nil {
		t.Fatalf("set_status: %v", err)
	}
	if res.IsError {
		t.Fatalf("set_status rejected: %s", resultText(t, res))
	}

	entry, ok := srv.registry.Get("claude-1")
	if !ok || entry.Status != registry.StatusBlocked || entry.Task != "sb-42" {
		t.Errorf("registry entry = %+v", entry)
	}

	// Status history is persisted as a kind=status message.
	page, err := st.Query(store.Filters{Agent: "claude-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Kind != models.KindStatus {
		t.Fatalf("status history = %+v", page.Messages)
	}

	// Both the persisted message and the status change reach the hub.
	types := map[hub.EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-sub.Events():
			types[evt.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for hub events")
		}
	}
	if !types[hub.EventStatusChanged] || !types[hub.EventMessageCreated] {
		t.Errorf("event types = %v", types)
	}
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeBd{})

	res, err := srv.handleSetStatus(identCtx("claude-1"), callReq(map[string]interface{}{
		"status": "napping",
	}))
	if err != nil {
		t.Fatalf("set_status: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown status accepted")
	}
	if _, ok := srv.registry.Get("claude-1"); ok {
		t.Error("rejected status reached the registry")
	}
}

func TestAnnounceQueuesAlert(t *testing.T) {
	srv, st, _ := newTestServer(t, &fakeBd{})

	res, err := srv.handleAnnounce(identCtx("claude-1"), callReq(map[string]interface{}{
		"message": "merge conflict in main",
		"type":    "blocker",
	}))
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if res.IsError {
		t.Fatalf("announce rejected: %s", resultText(t, res))
	}

	if got := srv.queue.Pending(); got != 1 {
		t.Errorf("queue pending = %d, want 1", got)
	}
	page, err := st.Query(store.Filters{Agent: "claude-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Announcement != models.AnnounceBlocker {
		t.Fatalf("stored announcement = %+v", page.Messages)
	}
}

func TestAnnounceRejectsBadType(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeBd{})

	res, err := srv.handleAnnounce(identCtx("claude-1"), callReq(map[string]interface{}{
		"message": "hello",
		"type":    "celebration",
	}))
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if !res.IsError {
		t.Fatal("bad announcement type accepted")
	}
	if got := srv.queue.Pending(); got != 0 {
		t.Errorf("rejected announcement queued, pending = %d", got)
	}
}

func TestCreateBeadPassesFlags(t *testing.T) {
	bd := &fakeBd{stdout: `{"id":"sb-1","title":"fix flake","status":"open","priority":1}`}
	srv, _, _ := newTestServer(t, bd)

	res, err := srv.handleCreateBead(identCtx("claude-1"), callReq(map[string]interface{}{
		"title":    "fix flake",
		"type":     "bug",
		"priority": float64(1),
	}))
	if err != nil {
		t.Fatalf("create_bead: %v", err)
	}
	if res.IsError {
		t.Fatalf("create_bead rejected: %s", resultText(t, res))
	}

	want := []string{"create", "fix flake", "--type", "bug", "--priority", "1", "--json"}
	got := bd.lastCall()
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v, want %v", got, want)
		}
	}
}

func TestUpdateBeadRejectsUnknownField(t *testing.T) {
	bd := &fakeBd{}
	srv, _, _ := newTestServer(t, bd)

	res, err := srv.handleUpdateBead(identCtx("claude-1"), callReq(map[string]interface{}{
		"id":     "sb-1",
		"fields": map[string]interface{}{"color": "red"},
	}))
	if err != nil {
		t.Fatalf("update_bead: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown field accepted")
	}
	if bd.lastCall() != nil {
		t.Error("rejected update reached the tracker")
	}
}

func TestBeadToolSurfacesTrackerFailure(t *testing.T) {
	bd := &fakeBd{exitCode: 1, stdout: ""}
	srv, _, _ := newTestServer(t, bd)

	res, err := srv.handleShowBead(identCtx("claude-1"), callReq(map[string]interface{}{
		"id": "sb-404",
	}))
	if err != nil {
		t.Fatalf("show_bead: %v", err)
	}
	if !res.IsError {
		t.Fatal("tracker failure not surfaced")
	}
}

func TestProjectStateDegradesWithoutTracker(t *testing.T) {
	bd := &fakeBd{exitCode: 1}
	srv, st, _ := newTestServer(t, bd)

	if err := st.Insert(&models.Message{FromAgent: "claude-1", ToAgent: "user", Body: "hi"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := srv.handleProjectState(identCtx("claude-1"), callReq(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("get_project_state: %v", err)
	}
	if res.IsError {
		t.Fatalf("project state failed outright: %s", resultText(t, res))
	}

	var state map[string]interface{}
	if err := json.Unmarshal([]byte(resultText(t, res)), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := state["beads_error"]; !ok {
		t.Error("tracker outage not reported in beads_error")
	}
	unread, ok := state["unread"].(map[string]interface{})
	if !ok || unread["claude-1"] != float64(1) {
		t.Errorf("unread = %v", state["unread"])
	}
}

func TestRequiredArgValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeBd{})
	ctx := identCtx("claude-1")

	cases := []struct {
		name string
		call func() (*mcp.CallToolResult, error)
	}{
		{"send_message missing body", func() (*mcp.CallToolResult, error) {
			return srv.handleSendMessage(ctx, callReq(map[string]interface{}{"to": "user"}))
		}},
		{"mark_read missing id", func() (*mcp.CallToolResult, error) {
			return srv.handleMarkRead(ctx, callReq(map[string]interface{}{}))
		}},
		{"report_progress missing percent", func() (*mcp.CallToolResult, error) {
			return srv.handleReportProgress(ctx, callReq(map[string]interface{}{"task": "sb-1"}))
		}},
		{"search missing query", func() (*mcp.CallToolResult, error) {
			return srv.handleSearchMessages(ctx, callReq(map[string]interface{}{}))
		}},
		{"create_bead missing title", func() (*mcp.CallToolResult, error) {
			return srv.handleCreateBead(ctx, callReq(map[string]interface{}{}))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.call()
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if !res.IsError || !strings.HasPrefix(resultText(t, res), "validation:") {
				t.Errorf("want validation result, got %q", resultText(t, res))
			}
		})
	}
}
