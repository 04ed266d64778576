package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// apiSandbox talks to the in-container agent over its HTTP API. Long tool
// invocations (package installs, builds) are expected, hence the generous
// timeout.
type apiSandbox struct {
	id         string
	baseURL    string
	vncURL     string
	cdpURL     string
	httpClient *http.Client
}

func newAPISandbox(id, ip string) *apiSandbox {
	return &apiSandbox{
		id:         id,
		baseURL:    fmt.Sprintf("http://%s:8080", ip),
		vncURL:     fmt.Sprintf("ws://%s:5901", ip),
		cdpURL:     fmt.Sprintf("http://%s:9222", ip),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (s *apiSandbox) ID() string     { return s.id }
func (s *apiSandbox) VNCURL() string { return s.vncURL }
func (s *apiSandbox) CDPURL() string { return s.cdpURL }

// post sends a JSON body and decodes the tool-result response.
func (s *apiSandbox) post(ctx context.Context, path string, body any) (*models.ToolResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling sandbox %s %s: %w", s.id, path, err)
	}
	defer resp.Body.Close()

	result := &models.ToolResult{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("decoding sandbox %s %s response: %w", s.id, path, err)
	}
	return result, nil
}

func (s *apiSandbox) ExecCommand(ctx context.Context, shellID, execDir, command string) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/shell/exec", map[string]any{
		"id":       shellID,
		"exec_dir": execDir,
		"command":  command,
	})
}

func (s *apiSandbox) ViewShell(ctx context.Context, shellID string) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/shell/view", map[string]any{"id": shellID})
}

func (s *apiSandbox) WaitForProcess(ctx context.Context, shellID string, seconds int) (*models.ToolResult, error) {
	body := map[string]any{"id": shellID}
	if seconds > 0 {
		body["seconds"] = seconds
	}
	return s.post(ctx, "/api/v1/shell/wait", body)
}

func (s *apiSandbox) WriteToProcess(ctx context.Context, shellID, input string, pressEnter bool) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/shell/write", map[string]any{
		"id":          shellID,
		"input":       input,
		"press_enter": pressEnter,
	})
}

func (s *apiSandbox) KillProcess(ctx context.Context, shellID string) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/shell/kill", map[string]any{"id": shellID})
}

func (s *apiSandbox) FileWrite(ctx context.Context, req FileWriteRequest) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/write", req)
}

func (s *apiSandbox) FileRead(ctx context.Context, req FileReadRequest) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/read", req)
}

func (s *apiSandbox) FileExists(ctx context.Context, path string) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/exists", map[string]any{"path": path})
}

func (s *apiSandbox) FileDelete(ctx context.Context, path string) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/delete", map[string]any{"path": path})
}

func (s *apiSandbox) FileList(ctx context.Context, path string) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/list", map[string]any{"path": path})
}

func (s *apiSandbox) FileReplace(ctx context.Context, req FileReplaceRequest) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/replace", req)
}

func (s *apiSandbox) FileSearch(ctx context.Context, file, regex string, sudo bool) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/search", map[string]any{
		"file":  file,
		"regex": regex,
		"sudo":  sudo,
	})
}

func (s *apiSandbox) FileFind(ctx context.Context, path, glob string) (*models.ToolResult, error) {
	return s.post(ctx, "/api/v1/file/find", map[string]any{
		"path": path,
		"glob": glob,
	})
}
