package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/helmsman-ai/helmsman/pkg/jsonrepair"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/storage"
	"github.com/helmsman-ai/helmsman/pkg/tools"
)

// Executor drives a single plan step to completion with the session's tool
// registry.
type Executor struct {
	*Base
}

// NewExecutor creates the execution agent for a session.
func NewExecutor(
	sessionID string,
	client llm.Client,
	registry *tools.Registry,
	memories storage.MemoryStore,
	parser *jsonrepair.Parser,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		Base: newBase(sessionID, RoleExecution, executionSystemPrompt, false,
			client, registry, memories, parser, logger),
	}
}

// ExecuteStep runs the agent loop on one step. It emits a started
// StepEvent, then the loop's events, then either a completed StepEvent
// plus the assistant's summary message, or a failed StepEvent plus an
// ErrorEvent when the loop exhausts its iterations.
//
// A message_ask_user tool call suspends execution: its calling event is
// re-emitted as an assistant message (the question), its called event
// becomes a WaitEvent, and ExecuteStep returns ErrSuspended with the step
// still running.
func (e *Executor) ExecuteStep(ctx context.Context, plan *models.Plan, step *models.Step, userMessage string, emit EmitFunc) error {
	step.Status = models.ExecutionRunning
	if err := emit(models.NewStepEvent(models.StepStarted, step)); err != nil {
		return err
	}
	e.logger.Info("step started", "step_id", step.ID)

	content, err := e.run(ctx, executionPrompt(plan.Goal, step.Description, userMessage), e.interceptAskUser(emit))
	switch {
	case errors.Is(err, ErrSuspended):
		e.logger.Info("step suspended for user input", "step_id", step.ID)
		return err
	case errors.Is(err, ErrMaxIterations):
		step.Status = models.ExecutionFailed
		step.Error = err.Error()
		e.logger.Warn("step failed", "step_id", step.ID, "error", step.Error)
		if err := emit(models.NewStepEvent(models.StepFailed, step)); err != nil {
			return err
		}
		return emit(models.NewErrorEvent(step.Error))
	case err != nil:
		return err
	}

	step.Status = models.ExecutionCompleted
	step.Result = content
	e.logger.Info("step completed", "step_id", step.ID)
	if err := emit(models.NewStepEvent(models.StepCompleted, step)); err != nil {
		return err
	}
	return emit(models.NewMessageEvent(models.RoleAssistant, content))
}

// interceptAskUser rewrites message_ask_user tool events into the
// suspension protocol and passes everything else through.
func (e *Executor) interceptAskUser(emit EmitFunc) EmitFunc {
	return func(ev models.Event) error {
		te, ok := ev.(*models.ToolEvent)
		if !ok || te.FunctionName != tools.FuncAskUser {
			return emit(ev)
		}
		switch te.Status {
		case models.ToolCalling:
			text, _ := te.FunctionArgs["text"].(string)
			return emit(models.NewMessageEvent(models.RoleAssistant, text))
		case models.ToolCalled:
			if err := emit(models.NewWaitEvent()); err != nil {
				return err
			}
			return ErrSuspended
		}
		return emit(ev)
	}
}
