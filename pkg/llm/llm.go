// Package llm is the gateway to OpenAI-compatible chat completion APIs.
package llm

import (
	"context"
	"encoding/json"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// ToolDefinition describes one callable function exposed to the model.
// Parameters is a JSON Schema document.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one chat completion call.
type Request struct {
	Messages []models.ChatMessage
	Tools    []ToolDefinition
	// JSONResponse asks the model to emit a JSON object.
	JSONResponse bool
}

// Response is the assistant turn returned by the model.
type Response struct {
	Content   string
	ToolCalls []models.ToolCall
}

// Client sends chat requests to a model. Model name, temperature, and token
// limits are fixed per client, mirroring the per-agent configuration.
type Client interface {
	Ask(ctx context.Context, req Request) (*Response, error)
	ModelName() string
}
