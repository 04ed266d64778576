package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) createSession(c *gin.Context) {
	sess, err := s.svc.CreateSession(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	s.logger.Info("Session created", "session_id", sess.ID)
	ok(c, createSessionResponse{SessionID: sess.ID})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.svc.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, getSessionResponse{
		SessionID: sess.ID,
		Title:     sess.Title,
		Events:    encodeSSEAll(sess.Events),
	})
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.svc.DeleteSession(c.Request.Context(), c.Param("session_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) stopSession(c *gin.Context) {
	if err := s.svc.StopSession(c.Request.Context(), c.Param("session_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.svc.ListSessions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, listSessionResponse{Sessions: listItems(sessions)})
}

// watchSessions streams the session list as a "sessions" SSE event on a
// fixed poll interval until the client disconnects.
func (s *Server) watchSessions(c *gin.Context) {
	ctx := c.Request.Context()
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		sessions, err := s.svc.ListSessions(ctx)
		if err != nil {
			s.logger.Error("Failed to list sessions for stream", "error", err)
			return false
		}
		c.SSEvent("sessions", listSessionResponse{Sessions: listItems(sessions)})

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return true
		}
	})
}
