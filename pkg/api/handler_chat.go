package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
)

type chatRequest struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	EventID   string `json:"event_id"`
}

// chat feeds a user message to the session (or just subscribes when the
// message is empty) and streams session events back as named SSE events.
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	events, err := s.svc.Chat(c.Request.Context(), orchestrator.ChatRequest{
		SessionID:   c.Param("session_id"),
		Message:     req.Message,
		Timestamp:   req.Timestamp,
		LastEventID: req.EventID,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.Stream(func(w io.Writer) bool {
		ev, open := <-events
		if !open {
			return false
		}
		sse := encodeSSE(ev)
		c.SSEvent(sse.Event, sse.Data)
		return true
	})
}
