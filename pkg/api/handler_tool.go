package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

type shellViewRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type fileViewRequest struct {
	File string `json:"file" binding:"required"`
}

// viewShell streams the console snapshot of one sandbox shell as a
// "shell" SSE event on a fixed poll interval.
func (s *Server) viewShell(c *gin.Context) {
	var req shellViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sessionID := c.Param("session_id")
	s.pollTool(c, "shell", func() (*models.ToolResult, error) {
		return s.svc.ShellView(c.Request.Context(), sessionID, req.SessionID)
	})
}

// viewFile streams the content of one sandbox file as a "file" SSE event
// on a fixed poll interval.
func (s *Server) viewFile(c *gin.Context) {
	var req fileViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sessionID := c.Param("session_id")
	s.pollTool(c, "file", func() (*models.ToolResult, error) {
		return s.svc.FileView(c.Request.Context(), sessionID, req.File)
	})
}

// pollTool re-runs fetch on a timer and forwards each result's payload as
// a named SSE event. The first failed fetch resolves as a plain error
// response so missing sessions surface as 404s rather than broken streams.
func (s *Server) pollTool(c *gin.Context, name string, fetch func() (*models.ToolResult, error)) {
	result, err := fetch()
	if err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(toolPollInterval)
	defer ticker.Stop()

	first := true
	c.Stream(func(w io.Writer) bool {
		if !first {
			var err error
			if result, err = fetch(); err != nil {
				s.logger.Error("Tool view poll failed", "event", name, "error", err)
				return false
			}
		}
		first = false
		c.SSEvent(name, result.Data)

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return true
		}
	})
}
