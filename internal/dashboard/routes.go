package dashboard

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/store"
)

func (s *Server) registerRoutes(router *gin.Engine) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	router.GET("/", s.handleIndex)

	api := router.Group("/api")
	api.GET("/messages", s.handleListMessages)
	api.POST("/messages", s.handleSendMessage)
	api.POST("/messages/:id/read", s.handleMarkRead)
	api.GET("/threads", s.handleThreads)
	api.GET("/agents", s.handleAgents)
	api.GET("/unread", s.handleUnread)
	api.GET("/events", s.handleSSE)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"live": s.hub.SessionCount(),
	})
}

// handleListMessages serves the inbox. With ?q= it switches to full-text
// search; otherwise it pages newest-first with an opaque cursor.
func (s *Server) handleListMessages(c *gin.Context) {
	if q := c.Query("q"); q != "" {
		msgs, err := s.store.Search(q, c.Query("agent"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
		return
	}

	filters := store.Filters{
		Agent:  c.Query("agent"),
		Thread: c.Query("thread"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		filters.Limit = limit
	}
	if raw := c.Query("before"); raw != "" {
		cursor, err := store.ParseCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad cursor"})
			return
		}
		filters.Before = &cursor
	}

	page, err := s.store.Query(filters)
	if err != nil {
		apiError(c, err)
		return
	}

	resp := gin.H{
		"messages": page.Messages,
		"has_more": page.HasMore,
	}
	if page.Next != nil {
		resp["next_cursor"] = page.Next.Encode()
	}
	c.JSON(http.StatusOK, resp)
}

type sendRequest struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	ReplyTo string `json:"reply_to"`
}

// handleSendMessage is the operator composing a message. Acceptance means
// the message is committed and broadcast; delivery to the agent happens
// when it next reads its inbox, hence 202 rather than 200.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to and body are required"})
		return
	}

	msg := models.Message{FromAgent: "user", ToAgent: req.To, Body: req.Body}
	if req.ReplyTo != "" {
		parent, err := s.store.Get(req.ReplyTo)
		if err != nil {
			apiError(c, err)
			return
		}
		msg.ThreadID = parent.ThreadID
	}

	if err := s.store.Insert(&msg); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if err := s.store.MarkRead(c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleThreads(c *gin.Context) {
	threads, err := s.store.Threads()
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (s *Server) handleAgents(c *gin.Context) {
	conns := []gateway.Connection{}
	if s.conns != nil {
		conns = s.conns.Connections()
	}
	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"statuses":    s.registry.List(""),
	})
}

func (s *Server) handleUnread(c *gin.Context) {
	counts, err := s.store.UnreadCounts()
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}

// apiError maps store errors onto HTTP statuses.
func apiError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
