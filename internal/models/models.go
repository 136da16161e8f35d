package models

import (
	"fmt"
	"slices"
)

// Role identifies the author of a message in the unified schema.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// UnmarshalText rejects roles outside the enumeration.
func (r *Role) UnmarshalText(text []byte) error {
	role := Role(text)
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", string(text))
	}
	*r = role
	return nil
}

// ToolMode controls whether declared tools are offered to the model.
// The zero value behaves as ToolModeOff.
type ToolMode string

const (
	ToolModeOff      ToolMode = "off"
	ToolModeAuto     ToolMode = "auto"
	ToolModeRequired ToolMode = "required"
)

// Enabled reports whether the mode asks for tool use.
func (m ToolMode) Enabled() bool {
	return m != "" && m != ToolModeOff
}

func (m ToolMode) Valid() bool {
	switch m {
	case "", ToolModeOff, ToolModeAuto, ToolModeRequired:
		return true
	default:
		return false
	}
}

func (m *ToolMode) UnmarshalText(text []byte) error {
	mode := ToolMode(text)
	if !mode.Valid() {
		return fmt.Errorf("invalid tool mode %q", string(text))
	}
	*m = mode
	return nil
}

// ThinkingMode toggles extended reasoning. The zero value behaves as ThinkingOff.
type ThinkingMode string

const (
	ThinkingOff ThinkingMode = "off"
	ThinkingOn  ThinkingMode = "on"
)

func (m ThinkingMode) Enabled() bool {
	return m != "" && m != ThinkingOff
}

func (m ThinkingMode) Valid() bool {
	switch m {
	case "", ThinkingOff, ThinkingOn:
		return true
	default:
		return false
	}
}

func (m *ThinkingMode) UnmarshalText(text []byte) error {
	mode := ThinkingMode(text)
	if !mode.Valid() {
		return fmt.Errorf("invalid thinking mode %q", string(text))
	}
	*m = mode
	return nil
}

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role    Role
	Content string
}

// ToolDef declares a tool the model may call. It carries no behaviour.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatRequest is the canonical representation of a chat completion.
type ChatRequest struct {
	Backend     string
	Model       string
	Messages    []Message
	Tools       []ToolDef
	ToolMode    ToolMode
	Thinking    ThinkingMode
	Temperature *float64
	MaxTokens   *int
}

// WantsTools reports whether tool declarations should be sent upstream.
func (r ChatRequest) WantsTools() bool {
	return r.ToolMode.Enabled() && len(r.Tools) > 0
}

// ToolNames returns the declared tool names in declaration order.
func (r ChatRequest) ToolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for _, tool := range r.Tools {
		names = append(names, tool.Name)
	}
	return names
}

// Validate checks the structural shape of the request. Feature checks
// against a backend live in the capability package.
func (r ChatRequest) Validate() error {
	if r.Backend == "" {
		return fmt.Errorf("backend must be provided")
	}
	if r.Model == "" {
		return fmt.Errorf("model must be provided")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	for i, msg := range r.Messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("messages[%d]: invalid role %q", i, msg.Role)
		}
	}
	seen := make(map[string]struct{}, len(r.Tools))
	for i, tool := range r.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tools[%d]: name must not be empty", i)
		}
		if _, dup := seen[tool.Name]; dup {
			return fmt.Errorf("tools[%d]: duplicate tool name %q", i, tool.Name)
		}
		seen[tool.Name] = struct{}{}
	}
	if !r.ToolMode.Valid() {
		return fmt.Errorf("invalid tool mode %q", r.ToolMode)
	}
	if !r.Thinking.Valid() {
		return fmt.Errorf("invalid thinking mode %q", r.Thinking)
	}
	return nil
}

// ChatResponse captures a provider response in the unified schema.
type ChatResponse struct {
	Backend string
	Model   string
	Text    string
	// Raw is the decoded vendor body, kept for diagnostics.
	Raw map[string]any
}

// EventType tags a StreamEvent.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventDone      EventType = "done"
)

// StreamEvent is one element of a streamed reply.
type StreamEvent struct {
	Type EventType
	Text string
	Raw  map[string]any
}

// TextDelta builds an incremental text event.
func TextDelta(text string, raw map[string]any) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text, Raw: raw}
}

// Done builds the terminal event of a stream.
func Done(raw map[string]any) StreamEvent {
	return StreamEvent{Type: EventDone, Raw: raw}
}

// ModelCapabilities describes what a backend supports for one model.
// Tools holds allowed tool names, "*" meaning any; empty means none.
type ModelCapabilities struct {
	Tools     []string
	Streaming bool
	Thinking  bool
}

func (c ModelCapabilities) AllowsAllTools() bool {
	return slices.Contains(c.Tools, "*")
}

func (c ModelCapabilities) AllowsTool(name string) bool {
	return c.AllowsAllTools() || slices.Contains(c.Tools, name)
}
