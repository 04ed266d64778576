package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

// Session status values. Transitions are pending -> running, running <->
// waiting, and running/waiting -> completed. Completed is terminal.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionWaiting   SessionStatus = "waiting"
	SessionCompleted SessionStatus = "completed"
)

// Session is one conversation with the agent pair, including its durable
// event history and unread-message bookkeeping for session lists.
type Session struct {
	ID                 string        `json:"id"`
	AgentID            string        `json:"agent_id"`
	SandboxID          string        `json:"sandbox_id,omitempty"`
	TaskID             string        `json:"task_id,omitempty"`
	Title              string        `json:"title,omitempty"`
	LatestMessage      string        `json:"latest_message,omitempty"`
	LatestMessageAt    int64         `json:"latest_message_at,omitempty"`
	UnreadMessageCount int           `json:"unread_message_count"`
	Status             SessionStatus `json:"status"`
	Events             []Event       `json:"events,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewSession creates a pending session bound to an agent.
func NewSession(agentID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Status:    SessionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the session can no longer run.
func (s *Session) Terminal() bool {
	return s.Status == SessionCompleted
}

// RecordMessage updates the latest-message fields and bumps the unread
// counter. Called for assistant messages produced while the user may not
// be watching.
func (s *Session) RecordMessage(text string, at int64) {
	s.LatestMessage = text
	s.LatestMessageAt = at
	s.UnreadMessageCount++
}

// ClearUnread resets the unread counter, typically when the client fetches
// the session detail.
func (s *Session) ClearUnread() {
	s.UnreadMessageCount = 0
}
