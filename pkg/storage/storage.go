// Package storage persists agents, sessions, session event history, and
// agent memories. A PostgreSQL implementation backs production; an
// in-memory implementation backs tests and ephemeral deployments.
package storage

import (
	"context"
	"errors"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Sentinel errors for lookups.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAgentNotFound   = errors.New("agent not found")
)

// SessionStore persists sessions and their event history. Get hydrates the
// session's events; List leaves them empty since session lists only need
// the summary fields.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context) ([]*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error

	// AppendEvent durably records one event in the session's history.
	AppendEvent(ctx context.Context, sessionID string, e models.Event) error

	// Fine-grained mutations applied by the task runner as event
	// side-effects. RecordMessage sets the latest-message fields and bumps
	// the unread counter; ClearUnread resets it when a client is watching.
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	RecordMessage(ctx context.Context, id, message string, at int64) error
	ClearUnread(ctx context.Context, id string) error

	// ClearTask drops the session's worker binding. A set task_id implies
	// the session is running or waiting, so terminal transitions clear it.
	ClearTask(ctx context.Context, id string) error
}

// AgentStore persists agent configurations.
type AgentStore interface {
	Create(ctx context.Context, a *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	Update(ctx context.Context, a *models.Agent) error
}

// MemoryStore persists conversation memories keyed by (session, role). Get
// returns an empty memory when none has been saved yet.
type MemoryStore interface {
	Get(ctx context.Context, sessionID, role string) (*models.Memory, error)
	Save(ctx context.Context, sessionID, role string, m *models.Memory) error
}

// Store aggregates the per-entity stores behind one handle.
type Store interface {
	Sessions() SessionStore
	Agents() AgentStore
	Memories() MemoryStore
	Close() error
}
