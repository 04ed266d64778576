package api

import (
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// sseEvent is one named server-sent event. The same shape serves the chat
// stream and the event history returned by GET /sessions/{id}.
type sseEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type baseEventData struct {
	EventID   string `json:"event_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type messageEventData struct {
	baseEventData
	Role    string `json:"role"`
	Content string `json:"content"`
}

type titleEventData struct {
	baseEventData
	Title string `json:"title"`
}

type stepEventData struct {
	baseEventData
	Status      models.ExecutionStatus `json:"status"`
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
}

type planEventData struct {
	baseEventData
	Steps []stepEventData `json:"steps"`
}

type toolEventData struct {
	baseEventData
	ToolCallID string            `json:"tool_call_id"`
	Name       string            `json:"name"`
	Status     models.ToolStatus `json:"status"`
	Function   string            `json:"function"`
	Args       map[string]any    `json:"args"`
	Content    any               `json:"content,omitempty"`
}

type errorEventData struct {
	baseEventData
	Error string `json:"error"`
}

// encodeSSE converts a session event to its wire representation.
func encodeSSE(e models.Event) sseEvent {
	base := baseEventData{EventID: e.Meta().ID, Timestamp: e.Meta().Timestamp}

	switch ev := e.(type) {
	case *models.MessageEvent:
		return sseEvent{Event: "message", Data: messageEventData{
			baseEventData: base, Role: ev.Role, Content: ev.Message,
		}}
	case *models.TitleEvent:
		return sseEvent{Event: "title", Data: titleEventData{
			baseEventData: base, Title: ev.Title,
		}}
	case *models.PlanEvent:
		steps := make([]stepEventData, 0, len(ev.Plan.Steps))
		for _, step := range ev.Plan.Steps {
			steps = append(steps, stepEventData{
				Status: step.Status, ID: step.ID, Description: step.Description,
			})
		}
		return sseEvent{Event: "plan", Data: planEventData{
			baseEventData: base, Steps: steps,
		}}
	case *models.StepEvent:
		return sseEvent{Event: "step", Data: stepEventData{
			baseEventData: base,
			Status:        ev.Step.Status,
			ID:            ev.Step.ID,
			Description:   ev.Step.Description,
		}}
	case *models.ToolEvent:
		return sseEvent{Event: "tool", Data: toolEventData{
			baseEventData: base,
			ToolCallID:    ev.ToolCallID,
			Name:          ev.ToolName,
			Status:        ev.Status,
			Function:      ev.FunctionName,
			Args:          ev.FunctionArgs,
			Content:       ev.ToolContent,
		}}
	case *models.ErrorEvent:
		return sseEvent{Event: "error", Data: errorEventData{
			baseEventData: base, Error: ev.Error,
		}}
	case *models.WaitEvent:
		return sseEvent{Event: "wait", Data: base}
	default:
		return sseEvent{Event: string(e.Kind()), Data: base}
	}
}

func encodeSSEAll(events []models.Event) []sseEvent {
	out := make([]sseEvent, 0, len(events))
	for _, e := range events {
		out = append(out, encodeSSE(e))
	}
	return out
}
