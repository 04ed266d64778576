// Package eventstream provides the durable, ordered per-session event log.
// Every event a session run emits is appended here; clients replay from a
// cursor and block for new events. Two implementations exist: an in-memory
// stream for tests and single-process deployments, and a Redis Streams
// backed one for durability across restarts.
package eventstream

import (
	"context"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Stream is an append-only event log with cursor-based reads. IDs are
// assigned at append time and are strictly increasing within a stream.
type Stream interface {
	// Put appends an event, assigns its ID in place, and returns the ID.
	Put(ctx context.Context, e models.Event) (string, error)

	// Get returns the first event with an ID strictly greater than
	// startID. An empty startID (or "0") reads from the beginning. When no
	// such event exists, Get waits up to block for one to arrive; with a
	// non-positive block it returns immediately. A nil event with a nil
	// error means nothing was available.
	Get(ctx context.Context, startID string, block time.Duration) (models.Event, error)

	// Pop removes and returns the oldest event, or nil when empty.
	Pop(ctx context.Context) (models.Event, error)

	// IsEmpty reports whether the stream holds no events.
	IsEmpty(ctx context.Context) (bool, error)

	// Size returns the number of events currently in the stream.
	Size(ctx context.Context) (int64, error)

	// Clear removes every event.
	Clear(ctx context.Context) error

	// Delete removes one event by ID and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// Provider hands out the stream for a session.
type Provider interface {
	Stream(sessionID string) Stream
	Close() error
}
