package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 15 * time.Second

// handleSSE streams hub events to the browser. The subscription itself is
// what marks the operator as present; it must be closed on disconnect or
// notifications stay suppressed.
func (s *Server) handleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := s.hub.Subscribe()
	defer sub.Close()

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(c.Writer, string(evt.Type), evt)
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
