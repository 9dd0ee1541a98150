package models

import "fmt"

// Message is a single entry of a conversation. Messages are immutable once appended to a
// conversation, and their order is the conversation order.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleSystem represents a system message, either the conversation prompt or an informational
	// notice such as a model switch.
	RoleSystem Role = "system"
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the model, or an error surfaced in its place.
	RoleAssistant Role = "assistant"
)

// ModelDescriptor identifies a model offered by the backend. The ID is opaque to the client.
type ModelDescriptor struct {
	ID string `json:"id"`
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ParseRole converts s into a Role, returning an error for unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
