package core

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AppName    = "Mnemo"
	AppVersion = "0.1.0"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MemoryMetadata references an entity surfaced by a context message.
type MemoryMetadata struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   int64      `json:"entity_id"`
	Name       string     `json:"name"`
}

// ContextMessage is one turn in the active window. Persisted rows are
// append-only: they are never mutated, only superseded by a new message set.
type ContextMessage struct {
	ID             int64            `json:"id,omitempty"`
	Role           string           `json:"role"`
	Content        string           `json:"content,omitempty"`
	ToolCalls      []ToolCall       `json:"tool_calls,omitempty"`
	ToolCallID     string           `json:"tool_call_id,omitempty"`
	MemoryMetadata []MemoryMetadata `json:"memory_metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at,omitempty"`
}

// Validate enforces the role/tool-call invariants. Violations are programmer
// errors and are rejected at construction time.
func (m ContextMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if m.Role != RoleAssistant && len(m.ToolCalls) > 0 {
		return fmt.Errorf("%w: role %q must not carry tool calls", ErrInvalidMessage, m.Role)
	}
	if m.Role != RoleTool && m.ToolCallID != "" {
		return fmt.Errorf("%w: role %q must not carry a tool call id", ErrInvalidMessage, m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("%w: tool message missing tool call id", ErrInvalidMessage)
	}
	return nil
}

// ContextMessageSet is the currently active, ordered list of message ids for
// one user. Exactly one set is active per user; replacing the window creates
// a new set and deactivates the prior one.
type ContextMessageSet struct {
	ID         int64
	UserID     int64
	MessageIDs []int64
	Active     bool
	CreatedAt  time.Time
}
