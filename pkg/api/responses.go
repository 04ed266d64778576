package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/storage"
)

// apiResponse is the envelope wrapping every JSON endpoint.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{Code: 0, Msg: "success", Data: data})
}

// fail maps service errors to HTTP status codes inside the envelope.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrSessionNotFound),
		errors.Is(err, storage.ErrAgentNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, apiResponse{Code: status, Msg: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, apiResponse{Code: http.StatusBadRequest, Msg: err.Error()})
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type getSessionResponse struct {
	SessionID string     `json:"session_id"`
	Title     string     `json:"title,omitempty"`
	Events    []sseEvent `json:"events"`
}

type listSessionItem struct {
	SessionID          string               `json:"session_id"`
	Title              string               `json:"title,omitempty"`
	LatestMessage      string               `json:"latest_message,omitempty"`
	LatestMessageAt    int64                `json:"latest_message_at,omitempty"`
	Status             models.SessionStatus `json:"status"`
	UnreadMessageCount int                  `json:"unread_message_count"`
}

type listSessionResponse struct {
	Sessions []listSessionItem `json:"sessions"`
}

func listItems(sessions []*models.Session) []listSessionItem {
	items := make([]listSessionItem, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, listSessionItem{
			SessionID:          sess.ID,
			Title:              sess.Title,
			LatestMessage:      sess.LatestMessage,
			LatestMessageAt:    sess.LatestMessageAt,
			Status:             sess.Status,
			UnreadMessageCount: sess.UnreadMessageCount,
		})
	}
	return items
}
