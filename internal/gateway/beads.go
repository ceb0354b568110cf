package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zulandar/switchboard/internal/mediator"
)

// updatableFields maps accepted update_bead field names to bd flags.
var updatableFields = map[string]string{
	"title":       "--title",
	"description": "--description",
	"status":      "--status",
	"priority":    "--priority",
	"assignee":    "--assignee",
}

// listFilters maps accepted list_beads filter names to bd flags.
var listFilters = map[string]string{
	"status":   "--status",
	"type":     "--type",
	"assignee": "--assignee",
}

func (s *Server) registerBeadTools() {
	s.mcp.AddTool(mcp.NewTool("create_bead",
		mcp.WithDescription("Create a work item in the bead tracker."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("type", mcp.Description("task, bug, epic, or spike; defaults to task")),
		mcp.WithNumber("priority", mcp.Description("0 (urgent) through 4 (someday)")),
	), s.handleCreateBead)

	s.mcp.AddTool(mcp.NewTool("update_bead",
		mcp.WithDescription("Update fields on an existing bead."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithObject("fields", mcp.Required(),
			mcp.Description("Fields to change: title, description, status, priority, assignee")),
	), s.handleUpdateBead)

	s.mcp.AddTool(mcp.NewTool("close_bead",
		mcp.WithDescription("Close a bead, optionally recording why."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("reason", mcp.Description("Closing note")),
	), s.handleCloseBead)

	s.mcp.AddTool(mcp.NewTool("list_beads",
		mcp.WithDescription("List beads, optionally filtered."),
		mcp.WithObject("filters",
			mcp.Description("Optional filters: status, type, assignee")),
	), s.handleListBeads)

	s.mcp.AddTool(mcp.NewTool("show_bead",
		mcp.WithDescription("Show one bead in full."),
		mcp.WithString("id", mcp.Required()),
	), s.handleShowBead)
}

// trackerResult maps a mediator failure to a tool result. Tracker
// rejections and timeouts surface as tool errors so the agent can retry
// or rephrase; they never fail the MCP request itself.
func trackerResult(err error) *mcp.CallToolResult {
	var te *mediator.ToolError
	if errors.As(err, &te) {
		return mcp.NewToolResultError(te.Error())
	}
	return mcp.NewToolResultError("tracker: " + err.Error())
}

func (s *Server) handleCreateBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil || strings.TrimSpace(title) == "" {
		return validationError("title is required"), nil
	}

	args := []string{title}
	if typ := req.GetString("type", ""); typ != "" {
		args = append(args, "--type", typ)
	}
	if priority := req.GetInt("priority", -1); priority >= 0 {
		args = append(args, "--priority", strconv.Itoa(priority))
	}

	res, err := s.mediator.Invoke(ctx, mediator.Invocation{Op: mediator.OpCreate, Args: args})
	if err != nil {
		return trackerResult(err), nil
	}
	return jsonResult(res.Bead)
}

func (s *Server) handleUpdateBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil || id == "" {
		return validationError("id is required"), nil
	}
	fields, ok := req.GetArguments()["fields"].(map[string]interface{})
	if !ok || len(fields) == 0 {
		return validationError("fields must be a non-empty object"), nil
	}

	flags, err := flagPairs(fields, updatableFields)
	if err != nil {
		return validationError("%v", err), nil
	}

	res, err := s.mediator.Invoke(ctx, mediator.Invocation{
		Op:   mediator.OpUpdate,
		Args: append([]string{id}, flags...),
	})
	if err != nil {
		return trackerResult(err), nil
	}
	return jsonResult(res.Bead)
}

func (s *Server) handleCloseBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil || id == "" {
		return validationError("id is required"), nil
	}

	args := []string{id}
	if reason := req.GetString("reason", ""); reason != "" {
		args = append(args, "--reason", reason)
	}

	res, err := s.mediator.Invoke(ctx, mediator.Invocation{Op: mediator.OpClose, Args: args})
	if err != nil {
		return trackerResult(err), nil
	}
	return jsonResult(res.Bead)
}

func (s *Server) handleListBeads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var filters map[string]interface{}
	if raw, ok := req.GetArguments()["filters"]; ok && raw != nil {
		filters, ok = raw.(map[string]interface{})
		if !ok {
			return validationError("filters must be an object"), nil
		}
	}

	beads, err := s.listBeads(ctx, filters)
	if err != nil {
		return trackerResult(err), nil
	}
	return jsonResult(beads)
}

// listBeads runs bd list; also backs the project state summary.
func (s *Server) listBeads(ctx context.Context, filters map[string]interface{}) ([]mediator.Bead, error) {
	flags, err := flagPairs(filters, listFilters)
	if err != nil {
		return nil, err
	}
	res, err := s.mediator.Invoke(ctx, mediator.Invocation{Op: mediator.OpList, Args: flags})
	if err != nil {
		return nil, err
	}
	return res.Beads, nil
}

func (s *Server) handleShowBead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil || id == "" {
		return validationError("id is required"), nil
	}

	res, err := s.mediator.Invoke(ctx, mediator.Invocation{Op: mediator.OpShow, Args: []string{id}})
	if err != nil {
		return trackerResult(err), nil
	}
	return jsonResult(res.Bead)
}

// flagPairs converts a field map into CLI flags, rejecting unknown keys.
// Keys are emitted in sorted order so invocations are reproducible.
func flagPairs(fields map[string]interface{}, allowed map[string]string) ([]string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := allowed[k]; !ok {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flags := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		var value string
		switch v := fields[k].(type) {
		case string:
			value = v
		case float64:
			value = strconv.Itoa(int(v))
		default:
			return nil, fmt.Errorf("field %q must be a string or number", k)
		}
		flags = append(flags, allowed[k], value)
	}
	return flags, nil
}
