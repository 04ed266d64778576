// Package sandbox manages the isolated execution environments that tools
// run inside. Each sandbox is a container exposing an HTTP API for shell
// and file operations, a VNC endpoint for screen sharing, and a Chrome
// DevTools endpoint for browser automation.
package sandbox

import (
	"context"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Sandbox is one running execution environment.
type Sandbox interface {
	// ID identifies the sandbox; for container-backed sandboxes it is the
	// container name.
	ID() string

	// VNCURL is the websocket URL of the sandbox's VNC server.
	VNCURL() string

	// CDPURL is the Chrome DevTools Protocol endpoint.
	CDPURL() string

	// Shell operations. shellID names a persistent shell session inside
	// the sandbox; execDir is the working directory for new commands.
	ExecCommand(ctx context.Context, shellID, execDir, command string) (*models.ToolResult, error)
	ViewShell(ctx context.Context, shellID string) (*models.ToolResult, error)
	WaitForProcess(ctx context.Context, shellID string, seconds int) (*models.ToolResult, error)
	WriteToProcess(ctx context.Context, shellID, input string, pressEnter bool) (*models.ToolResult, error)
	KillProcess(ctx context.Context, shellID string) (*models.ToolResult, error)

	// File operations.
	FileWrite(ctx context.Context, req FileWriteRequest) (*models.ToolResult, error)
	FileRead(ctx context.Context, req FileReadRequest) (*models.ToolResult, error)
	FileExists(ctx context.Context, path string) (*models.ToolResult, error)
	FileDelete(ctx context.Context, path string) (*models.ToolResult, error)
	FileList(ctx context.Context, path string) (*models.ToolResult, error)
	FileReplace(ctx context.Context, req FileReplaceRequest) (*models.ToolResult, error)
	FileSearch(ctx context.Context, file, regex string, sudo bool) (*models.ToolResult, error)
	FileFind(ctx context.Context, path, glob string) (*models.ToolResult, error)
}

// FileWriteRequest describes a file write.
type FileWriteRequest struct {
	File            string `json:"file"`
	Content         string `json:"content"`
	Append          bool   `json:"append"`
	LeadingNewline  bool   `json:"leading_newline"`
	TrailingNewline bool   `json:"trailing_newline"`
	Sudo            bool   `json:"sudo"`
}

// FileReadRequest describes a file read. Zero line bounds read the whole
// file.
type FileReadRequest struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Sudo      bool   `json:"sudo"`
}

// FileReplaceRequest describes an exact-string replacement.
type FileReplaceRequest struct {
	File   string `json:"file"`
	OldStr string `json:"old_str"`
	NewStr string `json:"new_str"`
	Sudo   bool   `json:"sudo"`
}

// Manager creates, looks up, and destroys sandboxes.
type Manager interface {
	Create(ctx context.Context) (Sandbox, error)
	Get(ctx context.Context, id string) (Sandbox, error)
	Destroy(ctx context.Context, id string) error
}
