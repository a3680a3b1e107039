package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/logging"
)

// Tool is a named capability an AI backend may invoke.
type Tool interface {
	// Name returns the unique identifier, snake_case by convention.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. The returned string is handed back to the
	// model verbatim.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Definition is the schema-level view of a tool, handed to provider adapters.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// RegistryOptions carries optional Registry collaborators.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry holds the tools available to a query. Registration happens at
// startup; lookups during queries are read-only, so no locking is needed.
type Registry struct {
	tools map[string]Tool
	log   logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools: make(map[string]Tool),
		log:   logging.OrNoOp(opts.Logger),
	}
}

// Register adds a tool, rejecting duplicate names.
func (r *Registry) Register(t Tool) error {
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every registered tool's schema, sorted by name for a
// stable prompt layout.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs one tool call request and always produces a result: unknown
// tools, argument parse failures and handler errors all come back with
// IsError set instead of an error return.
func (r *Registry) Execute(ctx context.Context, req core.ToolCallRequest) core.ToolCallResult {
	result := core.ToolCallResult{ID: req.ID, Name: req.Name}
	t, ok := r.tools[req.Name]
	if !ok {
		result.Content = fmt.Sprintf("unknown tool: %s", req.Name)
		result.IsError = true
		return result
	}
	args := map[string]any{}
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			result.Content = fmt.Sprintf("invalid arguments: %v", err)
			result.IsError = true
			return result
		}
	}
	out, err := t.Call(ctx, args)
	if err != nil {
		execErr := &core.ToolExecutionError{Tool: req.Name, Err: err}
		r.log.Warn("tool call failed", "tool", req.Name, "error", err)
		result.Content = execErr.Error()
		result.IsError = true
		return result
	}
	result.Content = out
	return result
}

// stringArg extracts an optional string argument.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
