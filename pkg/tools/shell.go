package tools

import (
	"context"
	"encoding/json"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
)

// ShellTool runs commands in persistent shell sessions inside the sandbox.
type ShellTool struct {
	sandbox sandbox.Sandbox
}

// NewShellTool creates the shell tool bound to one sandbox.
func NewShellTool(sb sandbox.Sandbox) *ShellTool {
	return &ShellTool{sandbox: sb}
}

// Name returns "shell".
func (t *ShellTool) Name() string { return "shell" }

// Functions lists the shell functions.
func (t *ShellTool) Functions() []Function {
	return []Function{
		{
			Name:        "shell_exec",
			Description: "Execute commands in a specified shell session. Use for running code, installing packages, or managing files.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Unique identifier of the target shell session"},
					"exec_dir": {"type": "string", "description": "Working directory for command execution (must use absolute path)"},
					"command": {"type": "string", "description": "Shell command to execute"}
				},
				"required": ["id", "exec_dir", "command"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.ExecCommand(ctx, stringArg(args, "id"), stringArg(args, "exec_dir"), stringArg(args, "command"))
			},
		},
		{
			Name:        "shell_view",
			Description: "View the content of a specified shell session. Use for checking command execution results or monitoring output.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Unique identifier of the target shell session"}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.ViewShell(ctx, stringArg(args, "id"))
			},
		},
		{
			Name:        "shell_wait",
			Description: "Wait for the running process in a specified shell session to return. Use after running commands that require longer runtime.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Unique identifier of the target shell session"},
					"seconds": {"type": "integer", "description": "Wait duration in seconds"}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.WaitForProcess(ctx, stringArg(args, "id"), intArg(args, "seconds"))
			},
		},
		{
			Name:        "shell_write_to_process",
			Description: "Write input to a running process in a specified shell session. Use for responding to interactive command prompts.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Unique identifier of the target shell session"},
					"input": {"type": "string", "description": "Input content to write to the process"},
					"press_enter": {"type": "boolean", "description": "Whether to press Enter key after input"}
				},
				"required": ["id", "input", "press_enter"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.WriteToProcess(ctx, stringArg(args, "id"), stringArg(args, "input"), boolArg(args, "press_enter"))
			},
		},
		{
			Name:        "shell_kill_process",
			Description: "Terminate a running process in a specified shell session. Use for stopping long-running processes or handling frozen commands.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Unique identifier of the target shell session"}
				},
				"required": ["id"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.KillProcess(ctx, stringArg(args, "id"))
			},
		},
	}
}
