package core

import "encoding/json"

// ToolCallRequest is the normalized form of a backend's request to execute a
// named tool. Each provider adapter translates its vendor-specific schema into
// this shape at its boundary so the orchestrator loop stays vendor-neutral.
type ToolCallRequest struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult carries the outcome of a tool execution back to the backend.
// Failed executions are serialized as error results rather than aborting the
// surrounding turn, so IsError distinguishes them from regular payloads.
type ToolCallResult struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
