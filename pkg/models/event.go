package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the event union on the wire and in storage.
type EventType string

// Event type constants.
const (
	EventTypeMessage EventType = "message"
	EventTypeTitle   EventType = "title"
	EventTypePlan    EventType = "plan"
	EventTypeStep    EventType = "step"
	EventTypeTool    EventType = "tool"
	EventTypeError   EventType = "error"
	EventTypeWait    EventType = "wait"
	EventTypeDone    EventType = "done"
)

// PlanEventStatus is the lifecycle phase carried by a PlanEvent.
type PlanEventStatus string

// Plan event status values.
const (
	PlanCreated   PlanEventStatus = "created"
	PlanUpdated   PlanEventStatus = "updated"
	PlanCompleted PlanEventStatus = "completed"
)

// StepEventStatus is the lifecycle phase carried by a StepEvent.
type StepEventStatus string

// Step event status values.
const (
	StepStarted   StepEventStatus = "started"
	StepFailed    StepEventStatus = "failed"
	StepCompleted StepEventStatus = "completed"
)

// ToolStatus marks a ToolEvent as emitted before or after the invocation.
type ToolStatus string

// Tool event status values.
const (
	ToolCalling ToolStatus = "calling"
	ToolCalled  ToolStatus = "called"
)

// Event is the tagged union of everything a session run can emit.
// IDs are assigned by the event stream at append time; timestamps are
// assigned at construction.
type Event interface {
	Kind() EventType
	Meta() *EventMeta
}

// EventMeta is embedded by every event variant.
type EventMeta struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Kind returns the event's type tag.
func (m *EventMeta) Kind() EventType { return m.Type }

// Meta returns the shared metadata for in-place ID assignment.
func (m *EventMeta) Meta() *EventMeta { return m }

func newMeta(t EventType) EventMeta {
	return EventMeta{Type: t, Timestamp: time.Now().Unix()}
}

// MessageEvent carries a user or assistant chat message.
type MessageEvent struct {
	EventMeta
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// NewMessageEvent creates a message event with the given role and text.
func NewMessageEvent(role, message string) *MessageEvent {
	return &MessageEvent{EventMeta: newMeta(EventTypeMessage), Role: role, Message: message}
}

// TitleEvent announces the session title chosen during planning.
type TitleEvent struct {
	EventMeta
	Title string `json:"title"`
}

// NewTitleEvent creates a title event.
func NewTitleEvent(title string) *TitleEvent {
	return &TitleEvent{EventMeta: newMeta(EventTypeTitle), Title: title}
}

// PlanEvent carries a full plan snapshot at creation, update, or completion.
type PlanEvent struct {
	EventMeta
	Status PlanEventStatus `json:"status"`
	Plan   *Plan           `json:"plan"`
}

// NewPlanEvent creates a plan event with a snapshot of the plan.
func NewPlanEvent(status PlanEventStatus, plan *Plan) *PlanEvent {
	return &PlanEvent{EventMeta: newMeta(EventTypePlan), Status: status, Plan: plan.Clone()}
}

// StepEvent carries a step snapshot at start, failure, or completion.
type StepEvent struct {
	EventMeta
	Status StepEventStatus `json:"status"`
	Step   *Step           `json:"step"`
}

// NewStepEvent creates a step event with a snapshot of the step.
func NewStepEvent(status StepEventStatus, step *Step) *StepEvent {
	return &StepEvent{EventMeta: newMeta(EventTypeStep), Status: status, Step: step.Clone()}
}

// ToolEvent is emitted before (calling) and after (called) a tool invocation.
// ToolContent is populated for shell/file/search calls so clients can render
// console output, file content, or search results without a second fetch.
type ToolEvent struct {
	EventMeta
	ToolCallID     string         `json:"tool_call_id"`
	ToolName       string         `json:"tool_name"`
	FunctionName   string         `json:"function_name"`
	FunctionArgs   map[string]any `json:"function_args"`
	Status         ToolStatus     `json:"status"`
	FunctionResult *ToolResult    `json:"function_result,omitempty"`
	ToolContent    any            `json:"tool_content,omitempty"`
}

// NewToolEvent creates a tool event.
func NewToolEvent(status ToolStatus, callID, toolName, functionName string, args map[string]any) *ToolEvent {
	return &ToolEvent{
		EventMeta:    newMeta(EventTypeTool),
		ToolCallID:   callID,
		ToolName:     toolName,
		FunctionName: functionName,
		FunctionArgs: args,
		Status:       status,
	}
}

// ShellToolContent is the console snapshot attached to shell tool events.
type ShellToolContent struct {
	Console any `json:"console"`
}

// FileToolContent is the file content attached to file tool events.
type FileToolContent struct {
	Content string `json:"content"`
}

// SearchToolContent is the result list attached to search tool events.
type SearchToolContent struct {
	Results any `json:"results"`
}

// ErrorEvent carries an error surfaced to the client.
type ErrorEvent struct {
	EventMeta
	Error string `json:"error"`
}

// NewErrorEvent creates an error event.
func NewErrorEvent(text string) *ErrorEvent {
	return &ErrorEvent{EventMeta: newMeta(EventTypeError), Error: text}
}

// WaitEvent parks the session until the user responds.
type WaitEvent struct {
	EventMeta
}

// NewWaitEvent creates a wait event.
func NewWaitEvent() *WaitEvent {
	return &WaitEvent{EventMeta: newMeta(EventTypeWait)}
}

// DoneEvent marks clean termination of a flow run.
type DoneEvent struct {
	EventMeta
}

// NewDoneEvent creates a done event.
func NewDoneEvent() *DoneEvent {
	return &DoneEvent{EventMeta: newMeta(EventTypeDone)}
}

// EncodeEvent serializes an event with its type tag.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent deserializes an event by its type tag.
func DecodeEvent(data []byte) (Event, error) {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	var e Event
	switch probe.Type {
	case EventTypeMessage:
		e = &MessageEvent{}
	case EventTypeTitle:
		e = &TitleEvent{}
	case EventTypePlan:
		e = &PlanEvent{}
	case EventTypeStep:
		e = &StepEvent{}
	case EventTypeTool:
		e = &ToolEvent{}
	case EventTypeError:
		e = &ErrorEvent{}
	case EventTypeWait:
		e = &WaitEvent{}
	case EventTypeDone:
		e = &DoneEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", probe.Type)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", probe.Type, err)
	}
	return e, nil
}

// EncodeEvents serializes a list of events as a JSON array.
func EncodeEvents(events []Event) ([]byte, error) {
	return json.Marshal(events)
}

// DecodeEvents deserializes a JSON array of events.
func DecodeEvents(data []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding event list: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		e, err := DecodeEvent(r)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
