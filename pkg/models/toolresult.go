package models

import "encoding/json"

// ToolResult is the normalized outcome of a tool invocation. Data carries
// tool-specific payloads (console records, search hits, file listings).
type ToolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Ok builds a successful result with a message.
func Ok(message string) *ToolResult {
	return &ToolResult{Success: true, Message: message}
}

// OkData builds a successful result carrying a payload.
func OkData(message string, data any) *ToolResult {
	return &ToolResult{Success: true, Message: message, Data: data}
}

// Fail builds a failed result.
func Fail(errText string) *ToolResult {
	return &ToolResult{Success: false, Error: errText}
}

// Content renders the result as the JSON string fed back to the model as
// the tool-role message.
func (r *ToolResult) Content() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unserializable tool result"}`
	}
	return string(b)
}
