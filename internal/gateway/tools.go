package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
)

// registerTools wires the fixed agent-facing catalog. Every handler
// validates its arguments before any side effect.
func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to the operator (\"user\") or a named agent."),
		mcp.WithString("to", mcp.Required(), mcp.Description("Recipient: \"user\" or an agent name")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("reply_to", mcp.Description("Message ID to reply to; the reply joins its thread")),
	), s.handleSendMessage)

	s.mcp.AddTool(mcp.NewTool("read_messages",
		mcp.WithDescription("Read messages newest-first, with cursor pagination for history."),
		mcp.WithString("thread", mcp.Description("Restrict to one thread")),
		mcp.WithString("before", mcp.Description("Cursor from a previous page")),
		mcp.WithNumber("limit", mcp.Description("Page size, default 50")),
	), s.handleReadMessages)

	s.mcp.AddTool(mcp.NewTool("list_threads",
		mcp.WithDescription("List conversation threads with previews and unread counts."),
	), s.handleListThreads)

	s.mcp.AddTool(mcp.NewTool("mark_read",
		mcp.WithDescription("Acknowledge a message as read. Idempotent."),
		mcp.WithString("message_id", mcp.Required()),
	), s.handleMarkRead)

	s.mcp.AddTool(mcp.NewTool("set_status",
		mcp.WithDescription("Set this agent's status: working, blocked, idle, or done."),
		mcp.WithString("status", mcp.Required()),
		mcp.WithString("task", mcp.Description("Current task reference")),
	), s.handleSetStatus)

	s.mcp.AddTool(mcp.NewTool("report_progress",
		mcp.WithDescription("Report progress on a task as a percentage."),
		mcp.WithString("task", mcp.Required()),
		mcp.WithNumber("percent", mcp.Required(), mcp.Description("0-100")),
		mcp.WithString("description", mcp.Description("What is happening right now")),
	), s.handleReportProgress)

	s.mcp.AddTool(mcp.NewTool("announce",
		mcp.WithDescription("Broadcast an announcement that may alert the operator."),
		mcp.WithString("message", mcp.Required()),
		mcp.WithString("type", mcp.Required(), mcp.Description("completion, blocker, or question")),
	), s.handleAnnounce)

	s.mcp.AddTool(mcp.NewTool("search_messages",
		mcp.WithDescription("Full-text search across all message history."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithString("agent", mcp.Description("Restrict to one agent's messages")),
	), s.handleSearchMessages)

	s.mcp.AddTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List live agent connections and last known statuses."),
	), s.handleListAgents)

	s.mcp.AddTool(mcp.NewTool("get_project_state",
		mcp.WithDescription("Summarize the project: connections, unread mail, open beads."),
	), s.handleProjectState)

	s.registerBeadTools()
}

// jsonResult marshals v as the tool's text payload.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func validationError(format string, args ...interface{}) *mcp.CallToolResult {
	return mcp.NewToolResultError("validation: " + fmt.Sprintf(format, args...))
}

// storeResult maps store errors to tool results, distinguishing rejection
// from infrastructure failure so callers never mistake one for the other.
func storeResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, store.ErrInvalid):
		return mcp.NewToolResultError("validation: " + err.Error())
	case errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	default:
		return mcp.NewToolResultError("store: " + err.Error())
	}
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to, err := req.RequireString("to")
	if err != nil || strings.TrimSpace(to) == "" {
		return validationError("to is required"), nil
	}
	body, err := req.RequireString("body")
	if err != nil || strings.TrimSpace(body) == "" {
		return validationError("body is required"), nil
	}

	agent, _ := s.identity(ctx)
	msg := models.Message{FromAgent: agent, ToAgent: to, Body: body}

	if replyTo := req.GetString("reply_to", ""); replyTo != "" {
		parent, err := s.store.Get(replyTo)
		if err != nil {
			return storeResult(err), nil
		}
		msg.ThreadID = parent.ThreadID
	}

	if err := s.store.Insert(&msg); err != nil {
		return storeResult(err), nil
	}
	return jsonResult(msg)
}

func (s *Server) handleReadMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, _ := s.identity(ctx)
	filters := store.Filters{
		Thread: req.GetString("thread", ""),
		Limit:  req.GetInt("limit", 0),
	}
	if filters.Thread == "" {
		filters.Agent = agent
	}
	if before := req.GetString("before", ""); before != "" {
		cursor, err := store.ParseCursor(before)
		if err != nil {
			return validationError("bad cursor: %v", err), nil
		}
		filters.Before = &cursor
	}

	page, err := s.store.Query(filters)
	if err != nil {
		return storeResult(err), nil
	}

	// Reading advances delivery for messages addressed to this agent.
	var mine []string
	for _, m := range page.Messages {
		if m.ToAgent == agent {
			mine = append(mine, m.ID)
		}
	}
	if err := s.store.MarkDelivered(mine); err != nil {
		fmt.Fprintf(s.out, "gateway: mark delivered: %v\n", err)
	}

	resp := map[string]interface{}{
		"messages": page.Messages,
		"has_more": page.HasMore,
	}
	if page.Next != nil {
		resp["next_cursor"] = page.Next.Encode()
	}
	return jsonResult(resp)
}

func (s *Server) handleListThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threads, err := s.store.Threads()
	if err != nil {
		return storeResult(err), nil
	}
	return jsonResult(threads)
}

func (s *Server) handleMarkRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("message_id")
	if err != nil || id == "" {
		return validationError("message_id is required"), nil
	}
	if err := s.store.MarkRead(id); err != nil {
		return storeResult(err), nil
	}
	return jsonResult(map[string]string{"status": "read", "message_id": id})
}

func (s *Server) handleSetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := req.RequireString("status")
	if err != nil {
		return validationError("status is required"), nil
	}
	task := req.GetString("task", "")

	agent, _ := s.identity(ctx)
	entry, err := s.registry.SetStatus(agent, registry.Status(status), task)
	if err != nil {
		return validationError("%v", err), nil
	}

	s.persistStatus(agent, entry, fmt.Sprintf("%s is %s", agent, status))
	s.publishStatus(agent, entry)
	return jsonResult(entry)
}

func (s *Server) handleReportProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := req.RequireString("task")
	if err != nil || task == "" {
		return validationError("task is required"), nil
	}
	percent, err := req.RequireInt("percent")
	if err != nil {
		return validationError("percent is required"), nil
	}
	description := req.GetString("description", "")

	agent, _ := s.identity(ctx)
	entry, err := s.registry.ReportProgress(agent, task, percent, description)
	if err != nil {
		return validationError("%v", err), nil
	}

	s.persistStatus(agent, entry, fmt.Sprintf("%s: %s %d%%", agent, task, percent))
	s.publishStatus(agent, entry)
	return jsonResult(entry)
}

// persistStatus writes the status change through the store so status
// history survives restarts. A store failure here degrades to a log line;
// the registry update already succeeded.
func (s *Server) persistStatus(agent string, entry registry.Entry, body string) {
	meta, _ := json.Marshal(entry)
	msg := models.Message{
		FromAgent: agent,
		ToAgent:   "user",
		Kind:      models.KindStatus,
		Body:      body,
		Metadata:  string(meta),
	}
	if err := s.store.Insert(&msg); err != nil {
		fmt.Fprintf(s.out, "gateway: persist status: %v\n", err)
	}
}

func (s *Server) publishStatus(agent string, entry registry.Entry) {
	s.hub.Publish(hub.Event{
		Type:   hub.EventStatusChanged,
		Agent:  agent,
		Status: &entry,
	})
}

func (s *Server) handleAnnounce(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := req.RequireString("message")
	if err != nil || strings.TrimSpace(body) == "" {
		return validationError("message is required"), nil
	}
	typ, err := req.RequireString("type")
	if err != nil {
		return validationError("type is required"), nil
	}
	if !models.ValidAnnouncement(typ) {
		return validationError("type must be completion, blocker, or question"), nil
	}

	agent, _ := s.identity(ctx)
	msg := models.Message{
		FromAgent:    agent,
		ToAgent:      "user",
		Kind:         models.KindAnnouncement,
		Announcement: typ,
		Body:         body,
	}
	if err := s.store.Insert(&msg); err != nil {
		return storeResult(err), nil
	}

	if s.queue != nil {
		s.queue.Enqueue(notify.Announcement{
			ID:       msg.ID,
			Type:     typ,
			Agent:    agent,
			ThreadID: msg.ThreadID,
			Body:     body,
			Priority: models.AnnouncementPriority(typ),
		})
	}
	return jsonResult(msg)
}

func (s *Server) handleSearchMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return validationError("query is required"), nil
	}
	msgs, err := s.store.Search(query, req.GetString("agent", ""))
	if err != nil {
		return storeResult(err), nil
	}
	return jsonResult(msgs)
}

func (s *Server) handleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]interface{}{
		"connections": s.Connections(),
		"statuses":    s.registry.List(""),
	})
}

func (s *Server) handleProjectState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, project := s.identity(ctx)
	state := map[string]interface{}{
		"project":     project,
		"connections": s.Connections(),
		"statuses":    s.registry.List(""),
	}

	unread, err := s.store.UnreadCounts()
	if err != nil {
		state["unread_error"] = err.Error()
	} else {
		state["unread"] = unread
	}

	// Bead summary is read-only and best-effort; a tracker outage
	// degrades the field, not the call.
	if beads, err := s.listBeads(ctx, nil); err != nil {
		state["beads_error"] = err.Error()
	} else {
		state["beads"] = beads
	}
	return jsonResult(state)
}
