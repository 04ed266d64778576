package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/helmsman-ai/helmsman/pkg/jsonrepair"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/storage"
)

// Planner turns a user request into a plan and revises the plan between
// steps. It exposes no tools to the model and requires JSON-object
// responses.
type Planner struct {
	*Base
}

// NewPlanner creates the planning agent for a session.
func NewPlanner(
	sessionID string,
	client llm.Client,
	memories storage.MemoryStore,
	parser *jsonrepair.Parser,
	logger *slog.Logger,
) *Planner {
	return &Planner{
		Base: newBase(sessionID, RolePlanner, plannerSystemPrompt, true,
			client, nil, memories, parser, logger),
	}
}

// planPayload is the JSON shape the planner model answers with.
type planPayload struct {
	Goal    string        `json:"goal"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Todo    string        `json:"todo"`
	Steps   []stepPayload `json:"steps"`
}

type stepPayload struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// CreatePlan prompts the model with the user's request, parses the plan it
// answers with, emits a created PlanEvent, and returns the plan.
func (p *Planner) CreatePlan(ctx context.Context, message string, emit EmitFunc) (*models.Plan, error) {
	content, err := p.run(ctx, createPlanPrompt(message), emit)
	if err != nil {
		return nil, err
	}

	var payload planPayload
	if err := p.parser.ParseInto(ctx, content, &payload); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	plan := &models.Plan{
		ID:      fmt.Sprintf("plan_%d", len(payload.Steps)),
		Goal:    payload.Goal,
		Title:   payload.Title,
		Message: payload.Message,
		Todo:    payload.Todo,
		Status:  models.ExecutionPending,
	}
	for _, s := range payload.Steps {
		plan.Steps = append(plan.Steps, &models.Step{
			ID:          s.ID,
			Description: s.Description,
			Status:      models.ExecutionPending,
		})
	}
	p.logger.Info("plan created", "plan_id", plan.ID, "steps", len(plan.Steps))

	if err := emit(models.NewPlanEvent(models.PlanCreated, plan)); err != nil {
		return nil, err
	}
	return plan, nil
}

// UpdatePlan prompts the model with the current step list, then replaces
// the tail of not-yet-done steps with the returned list. Completed and
// failed steps keep their place; the plan is mutated in place and an
// updated PlanEvent is emitted.
func (p *Planner) UpdatePlan(ctx context.Context, plan *models.Plan, emit EmitFunc) error {
	stepsJSON, err := json.Marshal(struct {
		Steps []*models.Step `json:"steps"`
	}{plan.Steps})
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}

	content, err := p.run(ctx, updatePlanPrompt(plan.Goal, string(stepsJSON)), emit)
	if err != nil {
		return err
	}

	var payload struct {
		Steps []stepPayload `json:"steps"`
	}
	if err := p.parser.ParseInto(ctx, content, &payload); err != nil {
		return fmt.Errorf("parsing plan update: %w", err)
	}

	replacement := make([]*models.Step, 0, len(payload.Steps))
	for _, s := range payload.Steps {
		replacement = append(replacement, &models.Step{
			ID:          s.ID,
			Description: s.Description,
			Status:      models.ExecutionPending,
		})
	}

	// Keep the done prefix, swap out everything still pending.
	firstPending := -1
	for i, s := range plan.Steps {
		if !s.Done() {
			firstPending = i
			break
		}
	}
	if firstPending >= 0 {
		updated := make([]*models.Step, 0, firstPending+len(replacement))
		updated = append(updated, plan.Steps[:firstPending]...)
		updated = append(updated, replacement...)
		plan.Steps = updated
	}
	p.logger.Info("plan updated", "plan_id", plan.ID, "steps", len(plan.Steps))

	return emit(models.NewPlanEvent(models.PlanUpdated, plan))
}
