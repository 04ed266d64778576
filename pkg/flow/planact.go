// Package flow coordinates the planner and executor through the plan/act
// state machine that turns one user message into a stream of events.
package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/helmsman-ai/helmsman/pkg/agent"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Status is the state-machine position of a flow.
type Status string

// Flow states. Idle is both the start and the terminal state of a run.
const (
	StatusIdle      Status = "idle"
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusUpdating  Status = "updating"
	StatusCompleted Status = "completed"
)

// PlanAct owns one session's planner/executor pair and the plan they work
// on. A PlanAct is not safe for concurrent use; the task runner serializes
// calls to Run.
type PlanAct struct {
	sessionID string
	status    Status
	suspended bool
	plan      *models.Plan

	planner  *agent.Planner
	executor *agent.Executor
	logger   *slog.Logger
}

// NewPlanAct creates an idle flow.
func NewPlanAct(sessionID string, planner *agent.Planner, executor *agent.Executor, logger *slog.Logger) *PlanAct {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanAct{
		sessionID: sessionID,
		status:    StatusIdle,
		planner:   planner,
		executor:  executor,
		logger:    logger.With("session_id", sessionID),
	}
}

// Done reports whether the flow has nothing in flight.
func (f *PlanAct) Done() bool { return f.status == StatusIdle }

// Resume seeds a freshly constructed flow with a plan snapshot so a
// waiting session picks up at its suspended step instead of re-planning.
func (f *PlanAct) Resume(plan *models.Plan) {
	if plan == nil {
		return
	}
	f.plan = plan
	f.status = StatusExecuting
	f.suspended = true
}

// Run processes one user message to completion (or suspension). Events go
// through emit in order; an emit error aborts the run and is returned
// unchanged, which is how the runner interrupts a flow when new input
// arrives.
//
// Re-entry on a non-idle flow first rolls back both agents' memories. A
// flow that suspended for user input resumes its current step with the new
// message as context; any other interruption restarts at planning.
func (f *PlanAct) Run(ctx context.Context, message string, emit agent.EmitFunc) error {
	stepContext := ""
	if !f.Done() {
		if err := f.planner.RollBack(ctx); err != nil {
			return err
		}
		if err := f.executor.RollBack(ctx); err != nil {
			return err
		}
		if f.suspended && f.plan != nil {
			f.suspended = false
			f.status = StatusExecuting
			stepContext = message
			f.logger.Info("resuming suspended step")
		} else {
			f.status = StatusPlanning
			f.logger.Info("interrupted mid-run, re-planning")
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch f.status {
		case StatusIdle:
			f.status = StatusPlanning

		case StatusPlanning:
			plan, err := f.planner.CreatePlan(ctx, message, emit)
			if err != nil {
				return err
			}
			f.plan = plan
			if plan.Title != "" {
				if err := emit(models.NewTitleEvent(plan.Title)); err != nil {
					return err
				}
			}
			if err := emit(models.NewMessageEvent(models.RoleAssistant, plan.Message)); err != nil {
				return err
			}
			f.status = StatusExecuting

		case StatusExecuting:
			f.plan.Status = models.ExecutionRunning
			step := f.plan.NextPendingStep()
			if step == nil {
				f.status = StatusCompleted
				continue
			}
			err := f.executor.ExecuteStep(ctx, f.plan, step, stepContext, emit)
			stepContext = ""
			if errors.Is(err, agent.ErrSuspended) {
				f.suspended = true
				return err
			}
			if err != nil {
				return err
			}
			// No point revising a plan with nothing left to do.
			if f.plan.NextPendingStep() == nil {
				f.status = StatusCompleted
			} else {
				f.status = StatusUpdating
			}

		case StatusUpdating:
			if err := f.planner.UpdatePlan(ctx, f.plan, emit); err != nil {
				return err
			}
			f.status = StatusExecuting

		case StatusCompleted:
			f.plan.Status = models.ExecutionCompleted
			if err := emit(models.NewPlanEvent(models.PlanCompleted, f.plan)); err != nil {
				return err
			}
			f.status = StatusIdle
			f.logger.Info("flow completed")
			return emit(models.NewDoneEvent())
		}
	}
}
