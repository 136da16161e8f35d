package openai

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
	DefaultBaseURL = "https://api.openai.com/v1"

	contentTypeJSON        = "application/json"
	userAgent              = "unichat/0.1"
	defaultReasoningEffort = "medium"
)

// Provider implements the Provider interface for OpenAI-compatible APIs.
type Provider struct {
	name            string
	apiKey          string
	headers         map[string]string
	client          *http.Client
	chatURL         string
	caps            capability.Table
	reasoningEffort string
	logger          *zap.Logger
}

// New creates a new OpenAI provider.
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

	effort := cfg.ReasoningEffort
	if effort == "" {
		effort = defaultReasoningEffort
	}

	defaults := models.ModelCapabilities{
		Tools:     []string{capability.Wildcard},
		Streaming: true,
		Thinking:  true,
	}

	return &Provider{
		name:            name,
		apiKey:          cfg.APIKey,
		headers:         cfg.Headers,
		client:          client,
		chatURL:         baseURL + "/chat/completions",
		caps:            capability.FromConfig(defaults, cfg),
		reasoningEffort: effort,
		logger:          logger.With(zap.String("provider", name)),
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Capabilities(model string) models.ModelCapabilities {
	return p.caps.Lookup(model)
}

func (p *Provider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	payload := p.buildChatPayload(req)

	httpReq, err := p.newRequest(ctx, payload, contentTypeJSON)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat request failed: %w", err)
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
		Text:    messageText(raw),
		Raw:     raw,
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req models.ChatRequest) (provider.Stream, error) {
	payload := p.buildChatPayload(req)
	payload.Stream = true

	httpReq, err := p.newRequest(ctx, payload, "text/event-stream")
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream request failed: %w", err)
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

func (p *Provider) newRequest(ctx context.Context, payload any, accept string) (*http.Request, error) {
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

	return req, nil
}

type chatPayload struct {
	Model           string          `json:"model"`
	Messages        []openAIMessage `json:"messages"`
	Stream          bool            `json:"stream,omitempty"`
	MaxTokens       *int            `json:"max_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	Tools           []toolSpec      `json:"tools,omitempty"`
	ToolChoice      any             `json:"tool_choice,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type namedToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func (p *Provider) buildChatPayload(req models.ChatRequest) chatPayload {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	payload := chatPayload{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if req.WantsTools() {
		payload.Tools, payload.ToolChoice = buildTools(req.Tools, req.ToolMode)
	}
	if req.Thinking.Enabled() {
		payload.ReasoningEffort = p.reasoningEffort
	}

	return payload
}

func buildTools(tools []models.ToolDef, mode models.ToolMode) ([]toolSpec, any) {
	specs := make([]toolSpec, 0, len(tools))
	for _, tool := range tools {
		params := tool.Schema
		if params == nil {
			params = map[string]any{}
		}
		specs = append(specs, toolSpec{
			Type: "function",
			Function: functionSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	var choice any
	switch mode {
	case models.ToolModeAuto:
		choice = "auto"
	case models.ToolModeRequired:
		// Forcing a call means naming a target; the first tool is used.
		named := namedToolChoice{Type: "function"}
		named.Function.Name = tools[0].Name
		choice = named
	}
	return specs, choice
}

func messageText(body map[string]any) string {
	choice, ok := provider.FirstChoice(body)
	if !ok {
		return ""
	}
	text, _ := provider.StringAt(choice, "message", "content")
	return text
}

func deltaText(chunk map[string]any) string {
	choice, ok := provider.FirstChoice(chunk)
	if !ok {
		return ""
	}
	text, _ := provider.StringAt(choice, "delta", "content")
	return text
}
