package taskrunner

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/eventstream"
)

// Task binds a runner to its input/output streams and owns the worker
// goroutine. A task can be started again after it finishes (the same
// runner drains newly arrived input); at most one goroutine runs at a
// time.
type Task struct {
	id     string
	runner *Runner
	input  eventstream.Stream
	output eventstream.Stream

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTask creates an unstarted task.
func NewTask(runner *Runner, input, output eventstream.Stream) *Task {
	return &Task{
		id:     uuid.NewString(),
		runner: runner,
		input:  input,
		output: output,
	}
}

// ID returns the task's identifier.
func (t *Task) ID() string { return t.id }

// Input is the stream of pending user messages.
func (t *Task) Input() eventstream.Stream { return t.input }

// Output is the stream events are appended to; it assigns event IDs.
func (t *Task) Output() eventstream.Stream { return t.output }

// Runner returns the task's runner.
func (t *Task) Runner() *Runner { return t.runner }

// Start launches the worker goroutine unless one is already running.
func (t *Task) Start(parent context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runningLocked() {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go func() {
		defer close(done)
		defer cancel()
		_ = t.runner.Run(ctx, t)
	}()
}

// Cancel signals the worker to stop. Idempotent; a no-op before Start.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Running reports whether the worker goroutine is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runningLocked()
}

func (t *Task) runningLocked() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the worker exits or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
