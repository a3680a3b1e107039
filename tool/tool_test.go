package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshbridge/core"
)

type stubTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (string, error)
}

func (t *stubTool) Name() string               { return t.name }
func (t *stubTool) Description() string        { return "stub" }
func (t *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *stubTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo"}))
	err := r.Register(&stubTool{name: "echo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "zeta"}))
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
}

func TestRegistry_ExecutePassesArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{
		name: "echo",
		fn: func(_ context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}))

	result := r.Execute(context.Background(), core.ToolCallRequest{
		ID:        "call_1",
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hello mesh"}`),
	})
	assert.False(t, result.IsError)
	assert.Equal(t, "hello mesh", result.Content)
	assert.Equal(t, "call_1", result.ID)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), core.ToolCallRequest{Name: "missing"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown tool")
}

func TestRegistry_ExecuteBadArguments(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "echo"}))
	result := r.Execute(context.Background(), core.ToolCallRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{broken`),
	})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "invalid arguments")
}

func TestRegistry_ExecuteCapturesHandlerError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{
		name: "flaky",
		fn: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("sensor offline")
		},
	}))

	result := r.Execute(context.Background(), core.ToolCallRequest{Name: "flaky"})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "sensor offline")
	assert.Contains(t, result.Content, "flaky")
}
