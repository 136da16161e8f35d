package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"unichat/internal/models"
)

var (
	errEmptyBackend   = errors.New("backend must be provided")
	errEmptyModel     = errors.New("model must be provided")
	errEmptyMessages  = errors.New("at least one message is required")
	errInvalidContent = errors.New("invalid message content")
	errInvalidTool    = errors.New("invalid tool")
)

// ChatRequest models the JSON body accepted by the chat endpoints.
type ChatRequest struct {
	Backend     string
	Model       string
	Messages    []ChatMessage
	Tools       []Tool
	ToolMode    models.ToolMode
	Thinking    models.ThinkingMode
	Temperature *float64
	MaxTokens   *int
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Backend     string              `json:"backend"`
		Model       string              `json:"model"`
		Messages    []ChatMessage       `json:"messages"`
		Tools       []Tool              `json:"tools"`
		ToolMode    models.ToolMode     `json:"tool_mode"`
		Thinking    models.ThinkingMode `json:"thinking"`
		Temperature *float64            `json:"temperature"`
		MaxTokens   *int                `json:"max_tokens"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Backend = strings.TrimSpace(raw.Backend)
	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Tools = raw.Tools
	r.ToolMode = raw.ToolMode
	r.Thinking = raw.Thinking
	r.Temperature = raw.Temperature
	r.MaxTokens = raw.MaxTokens

	return r.validate()
}

func (r *ChatRequest) validate() error {
	if r.Backend == "" {
		return errEmptyBackend
	}
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	for i, tool := range r.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return fmt.Errorf("tools[%d]: %w: name must not be empty", i, errInvalidTool)
		}
	}
	return nil
}

// ToUnified converts the wire request into the canonical format.
func (r ChatRequest) ToUnified() models.ChatRequest {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	var tools []models.ToolDef
	for _, t := range r.Tools {
		tools = append(tools, models.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.Schema,
		})
	}

	return models.ChatRequest{
		Backend:     r.Backend,
		Model:       r.Model,
		Messages:    msgs,
		Tools:       tools,
		ToolMode:    r.ToolMode,
		Thinking:    r.Thinking,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    models.Role
	Content string
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    models.Role     `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if raw.Role == "" {
		return errors.New("decode message: role must be provided")
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = raw.Role
	m.Content = content
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// Tool is the wire form of a tool declaration.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// ChatResponse is the JSON body returned by the chat endpoint.
type ChatResponse struct {
	Backend string         `json:"backend"`
	Model   string         `json:"model"`
	Text    string         `json:"text"`
	Raw     map[string]any `json:"raw,omitempty"`
}

func FromUnifiedChat(resp *models.ChatResponse) ChatResponse {
	return ChatResponse{
		Backend: resp.Backend,
		Model:   resp.Model,
		Text:    resp.Text,
		Raw:     resp.Raw,
	}
}

// StreamEvent is the JSON payload of one server-sent event.
type StreamEvent struct {
	Type models.EventType `json:"type"`
	Text string           `json:"text,omitempty"`
}

func FromUnifiedEvent(event models.StreamEvent) StreamEvent {
	return StreamEvent{Type: event.Type, Text: event.Text}
}

// Capabilities is the JSON form of models.ModelCapabilities.
type Capabilities struct {
	Backend   string   `json:"backend"`
	Model     string   `json:"model"`
	Tools     []string `json:"tools"`
	Streaming bool     `json:"streaming"`
	Thinking  bool     `json:"thinking"`
}

func FromCapabilities(backend, model string, caps models.ModelCapabilities) Capabilities {
	tools := caps.Tools
	if tools == nil {
		tools = []string{}
	}
	return Capabilities{
		Backend:   backend,
		Model:     model,
		Tools:     tools,
		Streaming: caps.Streaming,
		Thinking:  caps.Thinking,
	}
}
