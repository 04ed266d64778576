package tools

import (
	"context"
	"encoding/json"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/sandbox"
)

// FileTool reads and writes files inside the sandbox.
type FileTool struct {
	sandbox sandbox.Sandbox
}

// NewFileTool creates the file tool bound to one sandbox.
func NewFileTool(sb sandbox.Sandbox) *FileTool {
	return &FileTool{sandbox: sb}
}

// Name returns "file".
func (t *FileTool) Name() string { return "file" }

// Functions lists the file functions.
func (t *FileTool) Functions() []Function {
	return []Function{
		{
			Name:        "file_read",
			Description: "Read file content. Use for checking file contents, analyzing logs, or reading configuration files.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file": {"type": "string", "description": "Absolute path of the file to read"},
					"start_line": {"type": "integer", "description": "(Optional) Starting line to read from, 0-based"},
					"end_line": {"type": "integer", "description": "(Optional) Ending line number (exclusive)"},
					"sudo": {"type": "boolean", "description": "(Optional) Whether to use sudo privileges"}
				},
				"required": ["file"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.FileRead(ctx, sandbox.FileReadRequest{
					File:      stringArg(args, "file"),
					StartLine: intArg(args, "start_line"),
					EndLine:   intArg(args, "end_line"),
					Sudo:      boolArg(args, "sudo"),
				})
			},
		},
		{
			Name:        "file_write",
			Description: "Overwrite or append content to a file. Use for creating new files, appending content, or modifying existing files.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file": {"type": "string", "description": "Absolute path of the file to write to"},
					"content": {"type": "string", "description": "Text content to write"},
					"append": {"type": "boolean", "description": "(Optional) Whether to use append mode"},
					"leading_newline": {"type": "boolean", "description": "(Optional) Whether to add a leading newline"},
					"trailing_newline": {"type": "boolean", "description": "(Optional) Whether to add a trailing newline"},
					"sudo": {"type": "boolean", "description": "(Optional) Whether to use sudo privileges"}
				},
				"required": ["file", "content"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.FileWrite(ctx, sandbox.FileWriteRequest{
					File:            stringArg(args, "file"),
					Content:         stringArg(args, "content"),
					Append:          boolArg(args, "append"),
					LeadingNewline:  boolArg(args, "leading_newline"),
					TrailingNewline: boolArg(args, "trailing_newline"),
					Sudo:            boolArg(args, "sudo"),
				})
			},
		},
		{
			Name:        "file_str_replace",
			Description: "Replace specified string in a file. Use for updating specific content in files or fixing errors in code.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file": {"type": "string", "description": "Absolute path of the file to perform replacement on"},
					"old_str": {"type": "string", "description": "Original string to be replaced"},
					"new_str": {"type": "string", "description": "New string to replace with"},
					"sudo": {"type": "boolean", "description": "(Optional) Whether to use sudo privileges"}
				},
				"required": ["file", "old_str", "new_str"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.FileReplace(ctx, sandbox.FileReplaceRequest{
					File:   stringArg(args, "file"),
					OldStr: stringArg(args, "old_str"),
					NewStr: stringArg(args, "new_str"),
					Sudo:   boolArg(args, "sudo"),
				})
			},
		},
		{
			Name:        "file_find_in_content",
			Description: "Search for matching text within file content. Use for finding specific content or patterns in files.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"file": {"type": "string", "description": "Absolute path of the file to search within"},
					"regex": {"type": "string", "description": "Regular expression pattern to match"},
					"sudo": {"type": "boolean", "description": "(Optional) Whether to use sudo privileges"}
				},
				"required": ["file", "regex"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.FileSearch(ctx, stringArg(args, "file"), stringArg(args, "regex"), boolArg(args, "sudo"))
			},
		},
		{
			Name:        "file_find_by_name",
			Description: "Find files by name pattern in a specified directory. Use for locating files with specific naming patterns.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute path of the directory to search"},
					"glob": {"type": "string", "description": "Filename pattern using glob syntax wildcards"}
				},
				"required": ["path", "glob"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.sandbox.FileFind(ctx, stringArg(args, "path"), stringArg(args, "glob"))
			},
		},
	}
}
