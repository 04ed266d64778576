package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Retry policy for transient completion failures (rate limits, upstream
// 5xx, dropped connections).
const (
	maxCompletionRetries = 3
	completionBackoff    = 500 * time.Millisecond
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewOpenAIClient creates a client for one model configuration.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// ModelName returns the configured model.
func (c *OpenAIClient) ModelName() string { return c.model }

// Ask sends one chat completion request.
func (c *OpenAIClient) Ask(ctx context.Context, req Request) (*Response, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages:    toAPIMessages(req.Messages),
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if req.JSONResponse {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.complete(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion with %s: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion with %s returned no choices", c.model)
	}

	choice := resp.Choices[0].Message
	out := &Response{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	c.logger.Debug("chat completion",
		"model", c.model,
		"messages", len(req.Messages),
		"tool_calls", len(out.ToolCalls),
		"tokens", resp.Usage.TotalTokens)
	return out, nil
}

// complete issues the chat completion, retrying transient failures with
// constant backoff. Client-side errors are permanent.
func (c *OpenAIClient) complete(ctx context.Context, apiReq openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(completionBackoff), maxCompletionRetries-1),
		ctx,
	)
	err := backoff.Retry(func() error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, apiReq)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("chat completion failed, retrying", "model", c.model, "error", err)
		return err
	}, policy)
	return resp, err
}

// retryable reports whether the completion error is worth another attempt:
// rate limits, upstream server errors, and transport failures.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	// No typed API error means the request never got a response.
	return true
}

// FixJSON asks the model to rewrite free-form text as valid JSON. It backs
// the last-resort strategy of the JSON repair parser.
func (c *OpenAIClient) FixJSON(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`Please extract and fix the JSON from the following text. Return only valid JSON without any explanation or markdown formatting.

Input text:
%s

Requirements:
1. Extract any JSON-like content from the text
2. Fix common JSON formatting issues (missing quotes, trailing commas, etc.)
3. Return only the valid JSON, no additional text
4. If multiple JSON objects exist, return the most complete one
5. If no valid JSON can be extracted or fixed, return null

JSON:`, text)

	resp, err := c.Ask(ctx, Request{
		Messages:     []models.ChatMessage{models.UserMessage(prompt)},
		JSONResponse: true,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func toAPIMessages(msgs []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		apiMsg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, apiMsg)
	}
	return out
}
