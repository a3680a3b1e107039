package core

import "github.com/google/uuid"

// Role identifies the author of a conversation entry.
type Role string

const (
	// RoleUser marks an entry authored by a mesh node operator.
	RoleUser Role = "user"
	// RoleAssistant marks an entry authored by an AI backend.
	RoleAssistant Role = "assistant"
)

// Broadcast is the destination marker addressing every node on a channel.
// Broadcast traffic is never individually acknowledged.
const Broadcast = "^all"

// Entry is a single conversation turn. Only Role and Content are persisted;
// sender identity and environment metadata are folded into Content before an
// entry is appended so the on-disk shape stays a plain {role, content} array.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewID generates a unique identifier for invocations and delivery attempts.
func NewID() string { return uuid.NewString() }
