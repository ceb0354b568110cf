// Package dashboard is the operator-facing HTTP surface: a JSON API over
// the message store plus a server-sent-events stream fed by the hub. A
// connected SSE client counts as a live session, which suppresses offline
// notification hand-off.
package dashboard

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
)

// ConnectionSource reports live agent connections for the agents view.
// *gateway.Server satisfies it.
type ConnectionSource interface {
	Connections() []gateway.Connection
}

// Server serves the operator API and UI shell.
type Server struct {
	store    *store.Store
	registry *registry.Registry
	hub      *hub.Hub
	conns    ConnectionSource
	port     int
	out      io.Writer
	router   *gin.Engine
}

// Opts holds parameters for creating a dashboard Server.
type Opts struct {
	Store    *store.Store
	Registry *registry.Registry
	Hub      *hub.Hub
	Conns    ConnectionSource // optional; agents view omits connections when nil
	Port     int
	Out      io.Writer // defaults to os.Stdout
}

// New creates the dashboard server with all routes registered.
func New(opts Opts) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("dashboard: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("dashboard: registry is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("dashboard: hub is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	s := &Server{
		store:    opts.Store,
		registry: opts.Registry,
		hub:      opts.Hub,
		conns:    opts.Conns,
		port:     opts.Port,
		out:      out,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard: parse templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	s.registerRoutes(router)
	s.router = router
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(s.out, "Dashboard running at http://localhost:%d\n", s.port)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
