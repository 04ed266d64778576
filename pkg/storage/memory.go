package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// MemoryStore-backed Store for tests and single-process deployments.
type memoryStore struct {
	sessions *memorySessionStore
	agents   *memoryAgentStore
	memories *memoryMemoryStore
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: &memorySessionStore{
			sessions: make(map[string]*models.Session),
			events:   make(map[string][][]byte),
		},
		agents:   &memoryAgentStore{agents: make(map[string]*models.Agent)},
		memories: &memoryMemoryStore{memories: make(map[string]*models.Memory)},
	}
}

func (s *memoryStore) Sessions() SessionStore { return s.sessions }
func (s *memoryStore) Agents() AgentStore     { return s.agents }
func (s *memoryStore) Memories() MemoryStore  { return s.memories }
func (s *memoryStore) Close() error           { return nil }

type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	// events are stored encoded so mutations after append are invisible.
	events map[string][][]byte
}

func (s *memorySessionStore) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sess
	c.Events = nil
	s.sessions[sess.ID] = &c
	return nil
}

func (s *memorySessionStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	c := *sess
	for _, raw := range s.events[id] {
		e, err := models.DecodeEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding stored event for session %s: %w", id, err)
		}
		c.Events = append(c.Events, e)
	}
	return &c, nil
}

func (s *memorySessionStore) List(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		c := *sess
		c.Events = nil
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LatestMessageAt != out[j].LatestMessageAt {
			return out[i].LatestMessageAt > out[j].LatestMessageAt
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memorySessionStore) Update(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID)
	}
	c := *sess
	c.Events = nil
	c.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = &c
	return nil
}

func (s *memorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	delete(s.events, id)
	return nil
}

func (s *memorySessionStore) UpdateTitle(_ context.Context, id, title string) error {
	return s.mutate(id, func(sess *models.Session) {
		sess.Title = title
	})
}

func (s *memorySessionStore) UpdateStatus(_ context.Context, id string, status models.SessionStatus) error {
	return s.mutate(id, func(sess *models.Session) {
		sess.Status = status
	})
}

func (s *memorySessionStore) RecordMessage(_ context.Context, id, message string, at int64) error {
	return s.mutate(id, func(sess *models.Session) {
		sess.RecordMessage(message, at)
	})
}

func (s *memorySessionStore) ClearUnread(_ context.Context, id string) error {
	return s.mutate(id, func(sess *models.Session) {
		sess.ClearUnread()
	})
}

func (s *memorySessionStore) ClearTask(_ context.Context, id string) error {
	return s.mutate(id, func(sess *models.Session) {
		sess.TaskID = ""
	})
}

func (s *memorySessionStore) mutate(id string, fn func(*models.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	fn(sess)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memorySessionStore) AppendEvent(_ context.Context, sessionID string, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	raw, err := models.EncodeEvent(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	s.events[sessionID] = append(s.events[sessionID], raw)
	return nil
}

type memoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

func (s *memoryAgentStore) Create(_ context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.agents[a.ID] = &c
	return nil
}

func (s *memoryAgentStore) Get(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	c := *a
	return &c, nil
}

func (s *memoryAgentStore) Update(_ context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, a.ID)
	}
	c := *a
	c.UpdatedAt = time.Now().UTC()
	s.agents[a.ID] = &c
	return nil
}

type memoryMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*models.Memory
}

func memoryKey(sessionID, role string) string {
	return sessionID + "/" + role
}

func (s *memoryMemoryStore) Get(_ context.Context, sessionID, role string) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[memoryKey(sessionID, role)]
	if !ok {
		return models.NewMemory(), nil
	}
	c := &models.Memory{Messages: make([]models.ChatMessage, len(m.Messages))}
	copy(c.Messages, m.Messages)
	return c, nil
}

func (s *memoryMemoryStore) Save(_ context.Context, sessionID, role string, m *models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Memory{Messages: make([]models.ChatMessage, len(m.Messages))}
	copy(c.Messages, m.Messages)
	s.memories[memoryKey(sessionID, role)] = c
	return nil
}
