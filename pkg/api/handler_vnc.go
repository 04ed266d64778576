package api

import (
	"context"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// vnc bridges the client WebSocket to the sandbox VNC WebSocket, copying
// binary frames in both directions until either side closes.
func (s *Server) vnc(c *gin.Context) {
	sessionID := c.Param("session_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		Subprotocols: []string{"binary"},
	})
	if err != nil {
		s.logger.Error("VNC WebSocket accept failed", "session_id", sessionID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	url, err := s.svc.VNCURL(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to resolve VNC address", "session_id", sessionID, "error", err)
		conn.Close(websocket.StatusInternalError, "unable to connect to sandbox")
		return
	}

	remote, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		s.logger.Error("Failed to connect to sandbox VNC", "session_id", sessionID, "url", url, "error", err)
		conn.Close(websocket.StatusInternalError, "unable to connect to sandbox")
		return
	}
	s.logger.Info("VNC bridge established", "session_id", sessionID, "url", url)

	done := make(chan struct{}, 2)
	go forward(ctx, conn, remote, done)
	go forward(ctx, remote, conn, done)

	// Either direction closing tears down the whole bridge.
	<-done
	cancel()
	conn.Close(websocket.StatusNormalClosure, "")
	remote.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("VNC bridge closed", "session_id", sessionID)
}

func forward(ctx context.Context, src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return
		}
	}
}
