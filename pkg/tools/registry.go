// Package tools is the capability layer the executor dispatches into:
// a registry of named tools, each exposing JSON-Schema-described functions,
// with argument validation and bounded retry around invocation.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/helmsman-ai/helmsman/pkg/llm"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// ErrUnknownFunction is returned by Lookup for unregistered functions.
var ErrUnknownFunction = errors.New("unknown function")

// Handler executes one tool function.
type Handler func(ctx context.Context, args map[string]any) (*models.ToolResult, error)

// Function is one callable entry point of a tool.
type Function struct {
	Name        string
	Description string
	// Parameters is the JSON Schema for the arguments object.
	Parameters json.RawMessage
	Handler    Handler
}

// Tool groups related functions under one name.
type Tool interface {
	Name() string
	Functions() []Function
}

type registered struct {
	tool     Tool
	function Function
	schema   *jsonschema.Schema
}

// Registry holds the tool catalog and dispatches invocations.
type Registry struct {
	functions map[string]registered
	order     []string

	maxRetries    int
	retryInterval time.Duration
	logger        *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRetryPolicy overrides the invoke retry policy.
func WithRetryPolicy(maxRetries int, interval time.Duration) RegistryOption {
	return func(r *Registry) {
		r.maxRetries = maxRetries
		r.retryInterval = interval
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry compiles the schemas of every function and registers them.
// Duplicate function names and invalid schemas are registration errors.
func NewRegistry(toolList []Tool, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		functions:     make(map[string]registered),
		maxRetries:    3,
		retryInterval: time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, t := range toolList {
		for _, fn := range t.Functions() {
			if _, dup := r.functions[fn.Name]; dup {
				return nil, fmt.Errorf("duplicate function %q", fn.Name)
			}
			schema, err := compileSchema(fn.Name, fn.Parameters)
			if err != nil {
				return nil, fmt.Errorf("compiling schema for %s: %w", fn.Name, err)
			}
			r.functions[fn.Name] = registered{tool: t, function: fn, schema: schema}
			r.order = append(r.order, fn.Name)
		}
	}
	return r, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Definitions exports every function in the shape the chat completion API
// expects, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		reg := r.functions[name]
		out = append(out, llm.ToolDefinition{
			Name:        reg.function.Name,
			Description: reg.function.Description,
			Parameters:  reg.function.Parameters,
		})
	}
	return out
}

// Lookup resolves a function name to its owning tool.
func (r *Registry) Lookup(functionName string) (Tool, error) {
	reg, ok := r.functions[functionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, functionName)
	}
	return reg.tool, nil
}

// Invoke validates the arguments and runs the function with bounded retry.
// Transport errors are retried up to the configured attempts with a
// constant interval; on exhaustion a failed ToolResult carrying the last
// error is returned instead of the error itself. A ToolResult with
// success=false is a final answer and is not retried.
func (r *Registry) Invoke(ctx context.Context, functionName string, args map[string]any) (*models.ToolResult, error) {
	reg, ok := r.functions[functionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, functionName)
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := reg.schema.Validate(normalizeArgs(args)); err != nil {
		return models.Fail(fmt.Sprintf("invalid arguments for %s: %v", functionName, err)), nil
	}

	var result *models.ToolResult
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryInterval), uint64(r.maxRetries-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		var err error
		result, err = reg.function.Handler(ctx, args)
		if err != nil {
			r.logger.Warn("tool invocation failed", "function", functionName, "error", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return models.Fail(err.Error()), nil
	}
	return result, nil
}

// normalizeArgs round-trips the arguments through JSON so numeric types
// match what the schema validator expects.
func normalizeArgs(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return args
	}
	return doc
}
