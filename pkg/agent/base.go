// Package agent implements the LLM-driven agents that plan and execute
// sessions. Both roles share one generic loop: prompt the model, run at
// most one tool call per turn, feed the result back, repeat. Conversation
// state lives in a per-(session, role) memory that survives restarts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/pkg/jsonrepair"
	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/storage"
	"github.com/helmsman-ai/helmsman/pkg/tools"
)

// Agent role names. They scope memories, so two agents working the same
// session never see each other's conversation.
const (
	RolePlanner   = "planner"
	RoleExecution = "execution"
)

const defaultMaxIterations = 30

// ErrMaxIterations is returned when the loop runs out of iterations before
// the model stops calling tools.
var ErrMaxIterations = errors.New("maximum iteration count reached, failed to complete the task")

// ErrSuspended is returned when execution parked itself waiting for user
// input. The flow propagates it so the runner can leave the session in the
// waiting state.
var ErrSuspended = errors.New("waiting for user input")

// EmitFunc receives events as the agent produces them. Returning a non-nil
// error aborts the loop and surfaces the error to the caller; sentinel
// errors (ErrSuspended) travel this path.
type EmitFunc func(e models.Event) error

// Base is the generic agent loop shared by the planner and the executor.
type Base struct {
	sessionID    string
	role         string
	systemPrompt string
	jsonResponse bool

	maxIterations int

	client   llm.Client
	registry *tools.Registry
	memories storage.MemoryStore
	parser   *jsonrepair.Parser
	logger   *slog.Logger

	memory *models.Memory
}

// newBase wires a loop for one role. registry may be nil for agents that
// expose no tools to the model.
func newBase(
	sessionID, role, systemPrompt string,
	jsonResponse bool,
	client llm.Client,
	registry *tools.Registry,
	memories storage.MemoryStore,
	parser *jsonrepair.Parser,
	logger *slog.Logger,
) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		sessionID:     sessionID,
		role:          role,
		systemPrompt:  systemPrompt,
		jsonResponse:  jsonResponse,
		maxIterations: defaultMaxIterations,
		client:        client,
		registry:      registry,
		memories:      memories,
		parser:        parser,
		logger:        logger.With("session_id", sessionID, "role", role),
	}
}

// run drives the loop for one user-role prompt and returns the model's
// final assistant text. Tool events are delivered through emit as they
// happen; tool responses are written back into memory so the next turn
// sees them.
func (b *Base) run(ctx context.Context, request string, emit EmitFunc) (string, error) {
	resp, err := b.askWithMessages(ctx, []models.ChatMessage{models.UserMessage(request)})
	if err != nil {
		return "", err
	}
	for range b.maxIterations {
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		call := resp.ToolCalls[0]
		callID := call.ID
		if callID == "" {
			callID = uuid.NewString()
		}

		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := b.parser.ParseInto(ctx, raw, &args); err != nil {
				return "", fmt.Errorf("parsing arguments for %s: %w", call.Function.Name, err)
			}
		}
		if b.registry == nil {
			return "", fmt.Errorf("%w: %s", tools.ErrUnknownFunction, call.Function.Name)
		}
		tool, err := b.registry.Lookup(call.Function.Name)
		if err != nil {
			return "", err
		}

		calling := models.NewToolEvent(models.ToolCalling, callID, tool.Name(), call.Function.Name, args)
		if err := emit(calling); err != nil {
			return "", err
		}

		result, err := b.registry.Invoke(ctx, call.Function.Name, args)
		if err != nil {
			return "", err
		}
		b.logger.Debug("tool invoked",
			"function", call.Function.Name, "success", result.Success)

		called := models.NewToolEvent(models.ToolCalled, callID, tool.Name(), call.Function.Name, args)
		called.FunctionResult = result
		if err := emit(called); err != nil {
			return "", err
		}

		resp, err = b.askWithMessages(ctx, []models.ChatMessage{
			models.ToolMessage(callID, result.Content()),
		})
		if err != nil {
			return "", err
		}
	}
	return "", ErrMaxIterations
}

// askWithMessages records the input, requests a completion, truncates the
// response to its first tool call, and records the assistant turn.
func (b *Base) askWithMessages(ctx context.Context, msgs []models.ChatMessage) (*llm.Response, error) {
	if err := b.remember(ctx, msgs...); err != nil {
		return nil, err
	}

	req := llm.Request{Messages: b.memory.EffectiveMessages(), JSONResponse: b.jsonResponse}
	if b.registry != nil {
		req.Tools = b.registry.Definitions()
	}
	resp, err := b.client.Ask(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("asking model: %w", err)
	}
	// Tool calls run strictly one at a time.
	if len(resp.ToolCalls) > 1 {
		resp.ToolCalls = resp.ToolCalls[:1]
	}

	assistant := models.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
	if err := b.remember(ctx, assistant); err != nil {
		return nil, err
	}
	return resp, nil
}

// RollBack answers any tool calls left dangling by an interrupted run with
// synthetic success results, restoring the call/response pairing the chat
// protocol requires before the next prompt.
func (b *Base) RollBack(ctx context.Context) error {
	if err := b.ensureMemory(ctx); err != nil {
		return err
	}
	last := b.memory.Last()
	if len(last.ToolCalls) == 0 {
		return nil
	}
	responses := make([]models.ChatMessage, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		result := &models.ToolResult{Success: true}
		responses = append(responses, models.ToolMessage(id, result.Content()))
	}
	b.logger.Debug("rolled back dangling tool calls", "count", len(responses))
	return b.remember(ctx, responses...)
}

func (b *Base) ensureMemory(ctx context.Context) error {
	if b.memory != nil {
		return nil
	}
	m, err := b.memories.Get(ctx, b.sessionID, b.role)
	if err != nil {
		return fmt.Errorf("loading %s memory: %w", b.role, err)
	}
	b.memory = m
	return nil
}

// remember appends messages to memory and persists it. The first write
// into an empty memory prepends the role's system prompt.
func (b *Base) remember(ctx context.Context, msgs ...models.ChatMessage) error {
	if err := b.ensureMemory(ctx); err != nil {
		return err
	}
	if b.memory.Empty() {
		b.memory.Add(models.SystemMessage(b.systemPrompt))
	}
	b.memory.AddAll(msgs...)
	if err := b.memories.Save(ctx, b.sessionID, b.role, b.memory); err != nil {
		return fmt.Errorf("saving %s memory: %w", b.role, err)
	}
	return nil
}
