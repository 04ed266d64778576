// Package taskrunner owns the per-session worker: a Task wraps the
// goroutine, a Runner drains the session's input stream, drives the flow,
// and fans every event out to the output stream, the session's durable
// event history, and the session record's summary fields.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/flow"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
	"github.com/helmsman-ai/helmsman/pkg/storage"
)

// errInterrupted aborts the running flow when a newer user message is
// waiting in the input stream; the runner loop then picks it up.
var errInterrupted = errors.New("interrupted by new user message")

// Runner processes one session's input messages through its flow.
type Runner struct {
	sessionID string
	flow      *flow.PlanAct
	sandbox   sandbox.Sandbox
	sandboxes sandbox.Manager
	sessions  storage.SessionStore
	logger    *slog.Logger

	destroyed atomic.Bool
}

// NewRunner wires a runner for a session. The sandbox handle is used for
// tool-content enrichment; the manager releases it on Destroy.
func NewRunner(
	sessionID string,
	fl *flow.PlanAct,
	sb sandbox.Sandbox,
	sandboxes sandbox.Manager,
	sessions storage.SessionStore,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sessionID: sessionID,
		flow:      fl,
		sandbox:   sb,
		sandboxes: sandboxes,
		sessions:  sessions,
		logger:    logger.With("session_id", sessionID),
	}
}

// Flow exposes the runner's flow so the orchestrator can check Done().
func (r *Runner) Flow() *flow.PlanAct { return r.flow }

// Run drains the task's input stream. Each popped user message is fed to
// the flow; events are appended to the output stream (which assigns their
// IDs), persisted to the session's event history, and applied as session
// side-effects. Run returns when the input is empty (session completed)
// or the flow suspended (session waiting).
//
// Cancellation through ctx appends a single DoneEvent and completes the
// session; any other failure appends an ErrorEvent and completes the
// session.
func (r *Runner) Run(ctx context.Context, task *Task) error {
	r.logger.Info("task runner started", "task_id", task.ID())
	for {
		ev, err := task.Input().Pop(ctx)
		if err != nil {
			return r.fail(ctx, task, fmt.Errorf("popping input: %w", err))
		}
		if ev == nil {
			break
		}
		msg, ok := ev.(*models.MessageEvent)
		if !ok {
			r.logger.Warn("dropping non-message input event", "type", ev.Kind())
			continue
		}

		err = r.flow.Run(ctx, msg.Message, r.emit(ctx, task))
		switch {
		case err == nil, errors.Is(err, errInterrupted):
			// Loop around: either the flow finished or newer input wins.
		case errors.Is(err, agent.ErrSuspended):
			// WaitEvent side-effect already parked the session.
			r.logger.Info("task runner suspended")
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return r.cancelled(ctx, task)
		default:
			return r.fail(ctx, task, err)
		}
	}

	if err := r.complete(ctx); err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	r.logger.Info("task runner finished")
	return nil
}

// complete marks the session terminal and releases its worker binding; a
// set task_id implies a running or waiting session.
func (r *Runner) complete(ctx context.Context) error {
	if err := r.sessions.UpdateStatus(ctx, r.sessionID, models.SessionCompleted); err != nil {
		return err
	}
	return r.sessions.ClearTask(ctx, r.sessionID)
}

// emit is the flow's event sink: enrich, assign an ID via the output
// stream, persist, then apply side-effects. After every event it checks
// for newer input and interrupts the flow if any is waiting.
func (r *Runner) emit(ctx context.Context, task *Task) agent.EmitFunc {
	return func(ev models.Event) error {
		if te, ok := ev.(*models.ToolEvent); ok && te.Status == models.ToolCalled {
			r.enrich(ctx, te)
		}
		if err := r.record(ctx, task, ev); err != nil {
			return err
		}

		switch e := ev.(type) {
		case *models.TitleEvent:
			if err := r.sessions.UpdateTitle(ctx, r.sessionID, e.Title); err != nil {
				return err
			}
		case *models.MessageEvent:
			if e.Role == models.RoleAssistant {
				if err := r.sessions.RecordMessage(ctx, r.sessionID, e.Message, e.Timestamp); err != nil {
					return err
				}
			}
		case *models.WaitEvent:
			// Park the session; the flow returns ErrSuspended right after.
			return r.sessions.UpdateStatus(ctx, r.sessionID, models.SessionWaiting)
		}

		if empty, err := task.Input().IsEmpty(ctx); err == nil && !empty {
			return errInterrupted
		}
		return nil
	}
}

// record appends the event to the output stream (assigning its ID in
// place) and then to the session's durable event history.
func (r *Runner) record(ctx context.Context, task *Task, ev models.Event) error {
	if _, err := task.Output().Put(ctx, ev); err != nil {
		return fmt.Errorf("appending to output stream: %w", err)
	}
	if err := r.sessions.AppendEvent(ctx, r.sessionID, ev); err != nil {
		return fmt.Errorf("persisting event: %w", err)
	}
	return nil
}

// enrich attaches tool content to called tool events so clients can render
// console output, file content, or search results without a second fetch.
// Enrichment is best-effort; a failed sandbox call leaves the placeholder.
func (r *Runner) enrich(ctx context.Context, te *models.ToolEvent) {
	switch te.ToolName {
	case "search":
		if te.FunctionResult == nil {
			return
		}
		if data, ok := te.FunctionResult.Data.(map[string]any); ok {
			te.ToolContent = models.SearchToolContent{Results: data["results"]}
		}
	case "shell":
		content := models.ShellToolContent{Console: "(No Console)"}
		if id, ok := te.FunctionArgs["id"].(string); ok && r.sandbox != nil {
			if res, err := r.sandbox.ViewShell(ctx, id); err == nil && res != nil {
				if data, ok := res.Data.(map[string]any); ok {
					content.Console = data["console"]
				}
			}
		}
		te.ToolContent = content
	case "file":
		content := models.FileToolContent{Content: "(No Content)"}
		if file, ok := te.FunctionArgs["file"].(string); ok && r.sandbox != nil {
			if res, err := r.sandbox.FileRead(ctx, sandbox.FileReadRequest{File: file}); err == nil && res != nil {
				if data, ok := res.Data.(map[string]any); ok {
					if text, ok := data["content"].(string); ok {
						content.Content = text
					}
				}
			}
		}
		te.ToolContent = content
	}
}

// cancelled handles cooperative cancellation: one terminal DoneEvent, then
// the session completes. Terminal writes use a detached context because
// the run context is already dead.
func (r *Runner) cancelled(ctx context.Context, task *Task) error {
	r.logger.Info("task runner cancelled")
	ctx = context.WithoutCancel(ctx)
	if err := r.record(ctx, task, models.NewDoneEvent()); err != nil {
		r.logger.Error("recording cancel event", "error", err)
	}
	return r.complete(ctx)
}

// fail translates a runner failure into a terminal ErrorEvent and
// completes the session.
func (r *Runner) fail(ctx context.Context, task *Task, cause error) error {
	r.logger.Error("task runner failed", "error", cause)
	ctx = context.WithoutCancel(ctx)
	if err := r.record(ctx, task, models.NewErrorEvent(fmt.Sprintf("Task error: %v", cause))); err != nil {
		r.logger.Error("recording error event", "error", err)
	}
	if err := r.complete(ctx); err != nil {
		return err
	}
	return cause
}

// Destroy releases the session's sandbox. Safe to call more than once;
// only the first call does work.
func (r *Runner) Destroy(ctx context.Context) error {
	if !r.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if r.sandbox == nil || r.sandboxes == nil {
		return nil
	}
	r.logger.Info("destroying sandbox", "sandbox_id", r.sandbox.ID())
	return r.sandboxes.Destroy(ctx, r.sandbox.ID())
}
