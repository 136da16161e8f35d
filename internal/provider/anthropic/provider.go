package anthropic

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
)

const (
	// DefaultBaseURL is used when the configuration leaves base_url empty.
	DefaultBaseURL = "https://api.anthropic.com"

	contentTypeJSON       = "application/json"
	userAgent             = "unichat/0.1"
	apiVersion            = "2023-06-01"
	defaultMaxTokens      = 512
	defaultThinkingBudget = 1024
)

// Provider implements Anthropic Messages API interactions. Streaming is
// not offered by this adapter.
type Provider struct {
	name             string
	apiKey           string
	headers          map[string]string
	client           *http.Client
	messagesURL      string
	caps             capability.Table
	defaultMaxTokens int
	thinkingBudget   int
	logger           *zap.Logger
}

// New constructs an Anthropic provider instance.
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

	maxTokens := cfg.DefaultMaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	budget := cfg.ThinkingBudget
	if budget == 0 {
		budget = defaultThinkingBudget
	}

	defaults := models.ModelCapabilities{
		Tools:     []string{capability.Wildcard},
		Streaming: false,
		Thinking:  true,
	}

	return &Provider{
		name:             name,
		apiKey:           cfg.APIKey,
		headers:          cfg.Headers,
		client:           client,
		messagesURL:      baseURL + "/v1/messages",
		caps:             capability.FromConfig(defaults, cfg),
		defaultMaxTokens: maxTokens,
		thinkingBudget:   budget,
		logger:           logger.With(zap.String("provider", name)),
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Capabilities(model string) models.ModelCapabilities {
	return p.caps.Lookup(model)
}

func (p *Provider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	payload, err := p.buildMessagePayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, provider.ParseAPIError(p.name, httpResp)
	}

	raw, err := provider.DecodeObject(p.name, httpResp)
	if err != nil {
		return nil, err
	}

	return &models.ChatResponse{
		Backend: p.name,
		Model:   req.Model,
		Text:    extractText(raw),
		Raw:     raw,
	}, nil
}

// Stream always fails: this adapter does not stream.
func (p *Provider) Stream(ctx context.Context, req models.ChatRequest) (provider.Stream, error) {
	return nil, &provider.UnsupportedFeatureError{Feature: provider.FeatureStreaming}
}

// Close drops idle upstream connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *Provider) newRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type messagePayload struct {
	Model       string          `json:"model"`
	Messages    []message       `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []toolSpec      `json:"tools,omitempty"`
	ToolChoice  *toolChoice     `json:"tool_choice,omitempty"`
	Thinking    *thinkingConfig `json:"thinking,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

func (p *Provider) buildMessagePayload(req models.ChatRequest) (messagePayload, error) {
	messages := make([]message, 0, len(req.Messages))
	var systemParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case models.RoleUser, models.RoleAssistant:
			messages = append(messages, message{
				Role: string(msg.Role),
				Content: []contentBlock{
					{Type: "text", Text: msg.Content},
				},
			})
		default:
			return messagePayload{}, &provider.ValidationError{
				Provider: p.name,
				Message:  fmt.Sprintf("unsupported role %q", msg.Role),
			}
		}
	}

	maxTokens := p.defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	payload := messagePayload{
		Model:       req.Model,
		Messages:    messages,
		System:      strings.Join(systemParts, "\n"),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	if req.WantsTools() {
		payload.Tools = make([]toolSpec, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema := tool.Schema
			if schema == nil {
				schema = map[string]any{}
			}
			payload.Tools = append(payload.Tools, toolSpec{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schema,
			})
		}
		switch req.ToolMode {
		case models.ToolModeAuto:
			payload.ToolChoice = &toolChoice{Type: "auto"}
		case models.ToolModeRequired:
			payload.ToolChoice = &toolChoice{Type: "any"}
		}
	}

	if req.Thinking.Enabled() {
		payload.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: p.thinkingBudget}
		// The budget counts against max_tokens and must stay below it.
		if payload.MaxTokens <= p.thinkingBudget {
			raised := p.thinkingBudget + p.defaultMaxTokens
			p.logger.Debug("raising max_tokens above thinking budget",
				zap.Int("requested", payload.MaxTokens),
				zap.Int("max_tokens", raised),
			)
			payload.MaxTokens = raised
		}
	}

	return payload, nil
}

func extractText(body map[string]any) string {
	blocks, ok := body["content"].([]any)
	if !ok {
		return ""
	}

	var text strings.Builder
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok || block["type"] != "text" {
			continue
		}
		if s, ok := block["text"].(string); ok {
			text.WriteString(s)
		}
	}
	return text.String()
}
