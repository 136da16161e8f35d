package together

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"unichat/internal/capability"
	"unichat/internal/config"
	"unichat/internal/models"
	"unichat/internal/provider"
	"unichat/internal/sse"
)

const (
	// DefaultBaseURL is used when the configuration leaves base_url empty.
	DefaultBaseURL = "https://api.together.xyz/v1"

	contentTypeJSON = "application/json"
	userAgent       = "unichat/0.1"
)

// Provider implements Together's generic chat completions API. No tools
// are allowed unless supported_tools is configured, and thinking is
// never offered.
type Provider struct {
	name    string
	apiKey  string
	headers map[string]string
	client  *http.Client
	chatURL string
	caps    capability.Table
	logger  *zap.Logger
}

// New constructs a Together provider instance.
func New(name string, cfg config.ProviderConfig, client *http.Client, logger *zap.Logger) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	defaults := models.ModelCapabilities{
		Tools:     nil,
		Streaming: true,
		Thinking:  false,
	}

	return &Provider{
		name:    name,
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		client:  client,
		chatURL: baseURL + "/chat/completions",
		caps:    capability.FromConfig(defaults, cfg),
		logger:  logger.With(zap.String("provider", name)),
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Capabilities(model string) models.ModelCapabilities {
	return p.caps.Lookup(model)
}

func (p *Provider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	httpResp, err := p.do(ctx, buildPayload(req), contentTypeJSON)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, provider.ParseAPIError(p.name, httpResp)
	}

	raw, err := provider.DecodeObject(p.name, httpResp)
	if err != nil {
		return nil, err
	}

	var text string
	if choice, ok := provider.FirstChoice(raw); ok {
		text, _ = provider.StringAt(choice, "message", "content")
	}

	return &models.ChatResponse{
		Backend: p.name,
		Model:   req.Model,
		Text:    text,
		Raw:     raw,
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req models.ChatRequest) (provider.Stream, error) {
	payload := buildPayload(req)
	payload.Stream = true

	httpResp, err := p.do(ctx, payload, "text/event-stream")
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, provider.ParseAPIError(p.name, httpResp)
	}

	return sse.NewEventStream(httpResp.Body, deltaText, p.logger), nil
}

// Close drops idle upstream connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) do(ctx context.Context, payload chatPayload, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("together request failed: %w", err)
	}
	return resp, nil
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []toolSpec    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolSpec struct {
	Type     string         `json:"type"`
	Function map[string]any `json:"function"`
}

func buildPayload(req models.ChatRequest) chatPayload {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	payload := chatPayload{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if req.WantsTools() {
		for _, tool := range req.Tools {
			params := tool.Schema
			if params == nil {
				params = map[string]any{}
			}
			payload.Tools = append(payload.Tools, toolSpec{
				Type: "function",
				Function: map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  params,
				},
			})
		}
		switch req.ToolMode {
		case models.ToolModeAuto:
			payload.ToolChoice = "auto"
		case models.ToolModeRequired:
			payload.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": req.Tools[0].Name},
			}
		}
	}

	return payload
}

// deltaText reads choices[0].delta.content, falling back to
// choices[0].message.content for servers that send whole messages.
func deltaText(chunk map[string]any) string {
	choice, ok := provider.FirstChoice(chunk)
	if !ok {
		return ""
	}
	if text, ok := provider.StringAt(choice, "delta", "content"); ok {
		return text
	}
	text, _ := provider.StringAt(choice, "message", "content")
	return text
}
