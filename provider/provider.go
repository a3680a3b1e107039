package provider

import (
	"context"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/tool"
)

// Message is one normalized conversation turn handed to a backend. Assistant
// turns may carry tool call requests; user turns may carry the matching
// results. Adapters map these onto whatever message shape the vendor expects.
type Message struct {
	Role        core.Role
	Text        string
	ToolCalls   []core.ToolCallRequest
	ToolResults []core.ToolCallResult
}

// Request is a complete backend invocation: system prompt, windowed history
// ending in the current user turn, and the tools the backend may call.
type Request struct {
	System   string
	Messages []Message
	Tools    []tool.Definition
}

// Response is a backend's reply. A non-empty ToolCalls list means the backend
// wants tools executed before it produces a final answer.
type Response struct {
	Text      string
	ToolCalls []core.ToolCallRequest
}

// Provider is the uniform backend surface.
type Provider interface {
	// Name identifies the backend ("anthropic", "openai", "gemini",
	// "ollama").
	Name() string

	// SupportsTools reports whether the backend understands native tool
	// calling. Backends without it receive environment data as an in-band
	// prompt block instead.
	SupportsTools() bool

	// GetResponse performs one backend round trip. Failures come back as
	// *core.ProviderError so callers can degrade to a short user-facing
	// message.
	GetResponse(ctx context.Context, req Request) (*Response, error)
}
