package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent is a named model configuration that sessions are bound to.
type Agent struct {
	ID          string    `json:"id"`
	ModelName   string    `json:"model_name"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewAgent creates and validates an agent configuration.
func NewAgent(modelName string, temperature float64, maxTokens int) (*Agent, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model name must not be empty")
	}
	if temperature < 0 || temperature > 1 {
		return nil, fmt.Errorf("temperature %v out of range [0, 1]", temperature)
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive, got %d", maxTokens)
	}
	now := time.Now().UTC()
	return &Agent{
		ID:          uuid.NewString(),
		ModelName:   modelName,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
