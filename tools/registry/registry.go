// Package registry manages tool registration, schema generation and
// execution.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scrivly/agentloop/internal/schema"
	"github.com/scrivly/agentloop/internal/validator"
	"github.com/scrivly/agentloop/llm"
	"github.com/scrivly/agentloop/tools"
)

// ToolFactory is a function that creates a new tool instance
type ToolFactory func() tools.Tool

// Registry manages tool registration and discovery
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]ToolFactory
	generator *schema.Generator
	logger    *slog.Logger
}

// New creates a new tool registry
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]ToolFactory),
		generator: schema.NewGenerator(),
		logger:    logger,
	}
}

// Register registers a tool factory with the given name
func (r *Registry) Register(name string, factory ToolFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' is already registered", name)
	}

	r.tools[name] = factory
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool '%s' not found", name)
	}

	return factory(), nil
}

// List returns a list of all registered tool names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns the normalized definitions of all registered tools,
// already filtered of anything a provider would reject.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for name, factory := range r.tools {
		tool := factory()
		def := llm.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
		}
		if def.Name == "" {
			def.Name = name
		}

		// Tools that carry their own schema win over reflection.
		if provider, ok := tool.(tools.SchemaProvider); ok {
			def.Parameters = provider.ParametersSchema()
		} else if params := tool.Parameters(); params != nil {
			generated, err := r.generator.Generate(params)
			if err != nil {
				r.logger.Warn("schema generation failed", "tool", def.Name, "error", err)
				continue
			}
			def.Parameters = generated
		}

		defs = append(defs, def)
	}

	return r.FilterValid(defs)
}

// FilterValid drops definitions a provider would reject, logging each drop.
// A bad tool definition costs one tool, never the whole request. The filter
// is idempotent: filtering an already-filtered list changes nothing.
func (r *Registry) FilterValid(defs []llm.ToolDefinition) []llm.ToolDefinition {
	valid := make([]llm.ToolDefinition, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		switch {
		case def.Name == "":
			r.logger.Warn("dropping tool definition with empty name")
		case def.Description == "":
			r.logger.Warn("dropping tool definition with empty description", "tool", def.Name)
		case seen[def.Name]:
			r.logger.Warn("dropping duplicate tool definition", "tool", def.Name)
		default:
			seen[def.Name] = true
			valid = append(valid, def)
		}
	}
	return valid
}

// Execute executes a tool by name with the given parameters
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (string, error) {
	tool, err := r.Get(name)
	if err != nil {
		return "", err
	}

	// Remote tools validate on their own side; only struct-backed tools
	// get local validation.
	if paramStruct := tool.Parameters(); paramStruct != nil {
		if len(params) > 0 {
			if err := json.Unmarshal(params, paramStruct); err != nil {
				return "", tools.NewToolError("INVALID_PARAMS", "Failed to parse parameters").
					WithDetail("error", err.Error())
			}
		}
		if err := validator.Validate(paramStruct); err != nil {
			return "", tools.NewToolError("VALIDATION_FAILED", "Parameter validation failed").
				WithDetail("error", err.Error())
		}
	}

	return tool.Execute(ctx, params)
}
