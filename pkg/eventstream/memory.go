package eventstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// MemoryProvider keeps one in-memory stream per session.
type MemoryProvider struct {
	mu      sync.Mutex
	streams map[string]*MemoryStream
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{streams: make(map[string]*MemoryStream)}
}

// Stream returns the stream for a session, creating it on first use.
func (p *MemoryProvider) Stream(sessionID string) Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[sessionID]
	if !ok {
		s = NewMemoryStream()
		p.streams[sessionID] = s
	}
	return s
}

// Close releases all streams.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streams = make(map[string]*MemoryStream)
	return nil
}

type memoryEntry struct {
	id      string
	payload []byte
}

// MemoryStream is a process-local Stream. Events are stored encoded so
// readers always get independent copies.
type MemoryStream struct {
	mu      sync.Mutex
	entries []memoryEntry
	seq     int64
	// notify is closed and replaced on every append so blocked readers
	// wake up together.
	notify chan struct{}
}

// NewMemoryStream creates an empty stream.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{notify: make(chan struct{})}
}

// Put appends an event and assigns its ID.
func (s *MemoryStream) Put(_ context.Context, e models.Event) (string, error) {
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	e.Meta().ID = id

	payload, err := models.EncodeEvent(e)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("encoding event: %w", err)
	}
	s.entries = append(s.entries, memoryEntry{id: id, payload: payload})
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
	return id, nil
}

// Get returns the first event after startID, waiting up to block.
func (s *MemoryStream) Get(ctx context.Context, startID string, block time.Duration) (models.Event, error) {
	deadline := time.Now().Add(block)
	for {
		s.mu.Lock()
		entry, ok := s.after(startID)
		notify := s.notify
		s.mu.Unlock()

		if ok {
			return decodeEntry(entry)
		}
		remaining := time.Until(deadline)
		if block <= 0 || remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
			timer.Stop()
		}
	}
}

// after returns the first entry with an ID after startID. Caller holds the
// lock.
func (s *MemoryStream) after(startID string) (memoryEntry, bool) {
	if startID == "" || startID == "0" {
		if len(s.entries) == 0 {
			return memoryEntry{}, false
		}
		return s.entries[0], true
	}
	for i, e := range s.entries {
		if e.id == startID {
			if i+1 < len(s.entries) {
				return s.entries[i+1], true
			}
			return memoryEntry{}, false
		}
	}
	// Cursor was deleted or never existed; scan for the first larger ID.
	for _, e := range s.entries {
		if idLess(startID, e.id) {
			return e, true
		}
	}
	return memoryEntry{}, false
}

// Pop removes and returns the oldest event.
func (s *MemoryStream) Pop(_ context.Context) (models.Event, error) {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	entry := s.entries[0]
	s.entries = s.entries[1:]
	s.mu.Unlock()
	return decodeEntry(entry)
}

// IsEmpty reports whether the stream has no events.
func (s *MemoryStream) IsEmpty(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) == 0, nil
}

// Size returns the number of stored events.
func (s *MemoryStream) Size(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

// Clear removes every event.
func (s *MemoryStream) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Delete removes one event by ID.
func (s *MemoryStream) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func decodeEntry(entry memoryEntry) (models.Event, error) {
	e, err := models.DecodeEvent(entry.payload)
	if err != nil {
		return nil, fmt.Errorf("decoding stored event %s: %w", entry.id, err)
	}
	e.Meta().ID = entry.id
	return e, nil
}

// idLess compares stream IDs of the form "<seq>-<sub>" numerically.
func idLess(a, b string) bool {
	var aSeq, aSub, bSeq, bSub int64
	fmt.Sscanf(a, "%d-%d", &aSeq, &aSub)
	fmt.Sscanf(b, "%d-%d", &bSeq, &bSub)
	if aSeq != bSeq {
		return aSeq < bSeq
	}
	return aSub < bSub
}
