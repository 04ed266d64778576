package models

import "github.com/google/uuid"

// ExecutionStatus tracks plan and step progress.
type ExecutionStatus string

// Execution status values.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Step is a single unit of work within a plan.
type Step struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewStep creates a pending step with a fresh ID.
func NewStep(description string) *Step {
	return &Step{ID: uuid.NewString(), Description: description, Status: ExecutionPending}
}

// Done reports whether the step has reached a terminal status.
func (s *Step) Done() bool {
	return s.Status == ExecutionCompleted || s.Status == ExecutionFailed
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Plan is the planner's decomposition of a goal into ordered steps.
// Message is the greeting shown to the user when the plan is created, and
// Todo is a markdown rendering of the outstanding work.
type Plan struct {
	ID      string          `json:"id"`
	Goal    string          `json:"goal"`
	Title   string          `json:"title,omitempty"`
	Message string          `json:"message,omitempty"`
	Todo    string          `json:"todo,omitempty"`
	Steps   []*Step         `json:"steps"`
	Status  ExecutionStatus `json:"status"`
}

// NewPlan creates a pending plan for the given goal.
func NewPlan(goal string) *Plan {
	return &Plan{ID: uuid.NewString(), Goal: goal, Status: ExecutionPending}
}

// NextPendingStep returns the first step that has not reached a terminal
// status, or nil when every step is done.
func (p *Plan) NextPendingStep() *Step {
	for _, s := range p.Steps {
		if !s.Done() {
			return s
		}
	}
	return nil
}

// Done reports whether every step has reached a terminal status.
func (p *Plan) Done() bool {
	return p.NextPendingStep() == nil
}

// Empty reports whether the plan has no steps.
func (p *Plan) Empty() bool {
	return len(p.Steps) == 0
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = make([]*Step, len(p.Steps))
	for i, s := range p.Steps {
		c.Steps[i] = s.Clone()
	}
	return &c
}
