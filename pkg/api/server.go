// Package api exposes the session orchestrator over HTTP: REST endpoints
// for session lifecycle, SSE streams for chat and tool output, and a
// WebSocket bridge to the sandbox VNC server.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/orchestrator"
)

// Poll intervals for the SSE endpoints that re-read state on a timer.
const (
	toolPollInterval    = 5 * time.Second
	sessionPollInterval = 5 * time.Second
)

// Service is the orchestrator surface the HTTP layer depends on.
type Service interface {
	CreateSession(ctx context.Context) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	StopSession(ctx context.Context, id string) error
	Chat(ctx context.Context, req orchestrator.ChatRequest) (<-chan models.Event, error)
	ShellView(ctx context.Context, sessionID, shellID string) (*models.ToolResult, error)
	FileView(ctx context.Context, sessionID, path string) (*models.ToolResult, error)
	VNCURL(ctx context.Context, sessionID string) (string, error)
}

// Server is the HTTP server for the agent API.
type Server struct {
	svc    Service
	logger *slog.Logger
}

// NewServer creates the API server on top of the given service.
func NewServer(svc Service, logger *slog.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// Handler builds the router with all routes mounted under /api/v1.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.PUT("/sessions", s.createSession)
		v1.GET("/sessions", s.listSessions)
		v1.POST("/sessions", s.watchSessions)
		v1.GET("/sessions/:session_id", s.getSession)
		v1.DELETE("/sessions/:session_id", s.deleteSession)
		v1.POST("/sessions/:session_id/stop", s.stopSession)
		v1.POST("/sessions/:session_id/chat", s.chat)
		v1.POST("/sessions/:session_id/shell", s.viewShell)
		v1.POST("/sessions/:session_id/file", s.viewFile)
		v1.GET("/sessions/:session_id/vnc", s.vnc)
	}
	return router
}
