package tools

import (
	"context"
	"encoding/json"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Function names the executor intercepts for user interaction.
const (
	FuncNotifyUser = "message_notify_user"
	FuncAskUser    = "message_ask_user"
)

// MessageTool exposes the user-interaction functions. The handlers only
// acknowledge the call; surfacing the text and parking the session is the
// executor's job.
type MessageTool struct{}

// NewMessageTool creates the message tool.
func NewMessageTool() *MessageTool { return &MessageTool{} }

// Name returns "message".
func (t *MessageTool) Name() string { return "message" }

// Functions lists the message functions.
func (t *MessageTool) Functions() []Function {
	return []Function{
		{
			Name:        FuncNotifyUser,
			Description: "Send a message to user without requiring a response. Use for acknowledging receipt of messages, providing progress updates, reporting task completion, or explaining changes in approach.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "description": "Message text to display to user"}
				},
				"required": ["text"]
			}`),
			Handler: func(_ context.Context, _ map[string]any) (*models.ToolResult, error) {
				return models.Ok(""), nil
			},
		},
		{
			Name:        FuncAskUser,
			Description: "Ask user a question and wait for response. Use for requesting clarification, asking for confirmation, or gathering additional information.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "description": "Question text to present to user"},
					"attachments": {
						"anyOf": [
							{"type": "string"},
							{"items": {"type": "string"}, "type": "array"}
						],
						"description": "(Optional) List of question-related files or reference materials"
					},
					"suggest_user_takeover": {
						"type": "string",
						"enum": ["none", "browser"],
						"description": "(Optional) Suggested operation for user takeover"
					}
				},
				"required": ["text"]
			}`),
			Handler: func(_ context.Context, _ map[string]any) (*models.ToolResult, error) {
				return models.Ok(""), nil
			},
		},
	}
}
