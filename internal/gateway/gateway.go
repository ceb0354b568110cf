// Package gateway is the agent-facing MCP surface. Each agent process
// connects as an MCP client; the fixed tool catalog is the only way
// agents reach the store, the status registry, or the bead tracker.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/mediator"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
)

// Identity headers. The HTTP header is the stronger signal; the MCP
// client name is only a fallback.
const (
	AgentHeader   = "X-Switchboard-Agent"
	ProjectHeader = "X-Switchboard-Project"
)

type agentKey struct{}
type projectKey struct{}

// Connection is the ephemeral state for one live agent session. It is
// never persisted; a restart empties the table and agents reconnect.
type Connection struct {
	ID            string    `json:"id"`
	Agent         string    `json:"agent"`
	Project       string    `json:"project"`
	ClientName    string    `json:"client_name,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// Server owns the MCP listener and the live connection table.
type Server struct {
	store    *store.Store
	registry *registry.Registry
	mediator *mediator.Mediator
	hub      *hub.Hub
	queue    *notify.Queue
	project  string
	port     int
	out      io.Writer

	mcp  *server.MCPServer
	http *server.StreamableHTTPServer

	mu    sync.Mutex
	conns map[string]Connection
}

// Opts holds parameters for creating a gateway Server.
type Opts struct {
	Store    *store.Store
	Registry *registry.Registry
	Mediator *mediator.Mediator
	Hub      *hub.Hub
	Queue    *notify.Queue // optional; announcements skip playback when nil
	Project  string        // default project scope
	Port     int
	Out      io.Writer // defaults to os.Stdout
}

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the gateway with the full tool catalog registered.
func New(opts Opts) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("gateway: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("gateway: registry is required")
	}
	if opts.Mediator == nil {
		return nil, fmt.Errorf("gateway: mediator is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("gateway: hub is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	s := &Server{
		store:    opts.Store,
		registry: opts.Registry,
		mediator: opts.Mediator,
		hub:      opts.Hub,
		queue:    opts.Queue,
		project:  opts.Project,
		port:     opts.Port,
		out:      out,
		conns:    make(map[string]Connection),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(s.onRegister)
	hooks.AddOnUnregisterSession(s.onUnregister)

	s.mcp = server.NewMCPServer(
		"switchboard",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Switchboard bridges coding agents and the operator dashboard. Use send_message to reach the operator, set_status/report_progress to keep the dashboard current, announce for events that warrant an alert, and the bead tools for work tracking."),
	)
	s.registerTools()

	s.http = server.NewStreamableHTTPServer(
		s.mcp,
		server.WithHTTPContextFunc(withIdentity),
	)
	return s, nil
}

// withIdentity lifts the identity headers into the request context so
// session hooks and tool handlers can resolve them.
func withIdentity(ctx context.Context, r *http.Request) context.Context {
	if agent := r.Header.Get(AgentHeader); agent != "" {
		ctx = context.WithValue(ctx, agentKey{}, agent)
	}
	if project := r.Header.Get(ProjectHeader); project != "" {
		ctx = context.WithValue(ctx, projectKey{}, project)
	}
	return ctx
}

// Run serves the MCP listener until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	fmt.Fprintf(s.out, "Gateway listening on %s\n", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Start(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	}
}

// onRegister resolves the connection's identity and announces it.
func (s *Server) onRegister(ctx context.Context, session server.ClientSession) {
	conn := Connection{
		ID:          session.SessionID(),
		Agent:       headerValue(ctx, agentKey{}),
		Project:     headerValue(ctx, projectKey{}),
		ConnectedAt: time.Now(),
	}
	if ci, ok := session.(server.SessionWithClientInfo); ok {
		info := ci.GetClientInfo()
		conn.ClientName = info.Name
		conn.ClientVersion = info.Version
	}
	if conn.Agent == "" {
		// Weakest signal: the client-supplied name from the handshake.
		conn.Agent = conn.ClientName
	}
	if conn.Agent == "" {
		conn.Agent = "agent-" + shortID(conn.ID)
	}
	if conn.Project == "" {
		conn.Project = s.project
	}

	s.mu.Lock()
	s.conns[conn.ID] = conn
	s.mu.Unlock()

	s.hub.Publish(hub.Event{Type: hub.EventAgentOnline, Agent: conn.Agent})
}

// onUnregister drops the connection. In-flight calls for the session die
// with their own contexts; nothing here touches committed store state.
func (s *Server) onUnregister(ctx context.Context, session server.ClientSession) {
	s.mu.Lock()
	conn, ok := s.conns[session.SessionID()]
	delete(s.conns, session.SessionID())
	s.mu.Unlock()
	if ok {
		s.hub.Publish(hub.Event{Type: hub.EventAgentOffline, Agent: conn.Agent})
	}
}

// Connections returns the live connection table, ordered by agent.
func (s *Server) Connections() []Connection {
	s.mu.Lock()
	conns := make([]Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].Agent < conns[j].Agent })
	return conns
}

// identity resolves the calling agent and project for a tool invocation:
// the registered connection first, then request headers, then defaults.
func (s *Server) identity(ctx context.Context) (agent, project string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.mu.Lock()
		conn, ok := s.conns[session.SessionID()]
		s.mu.Unlock()
		if ok {
			return conn.Agent, conn.Project
		}
	}
	agent = headerValue(ctx, agentKey{})
	project = headerValue(ctx, projectKey{})
	if agent == "" {
		agent = "agent"
	}
	if project == "" {
		project = s.project
	}
	return agent, project
}

func headerValue(ctx context.Context, key interface{}) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
