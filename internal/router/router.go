package router

import (
	"context"

	"go.uber.org/zap"

	"unichat/internal/capability"
	"unichat/internal/models"
	"unichat/internal/provider"
)

// Router dispatches unified requests to the provider named by the request,
// enforcing capability checks before any network call.
type Router struct {
	registry *provider.Registry
	logger   *zap.Logger
}

// New constructs a router backed by the provided registry.
func New(registry *provider.Registry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		logger:   logger,
	}
}

// Provider returns the provider registered under name.
func (r *Router) Provider(name string) (provider.Provider, error) {
	return r.registry.Lookup(name)
}

// Providers lists the registered backend names.
func (r *Router) Providers() []string {
	return r.registry.Names()
}

// Capabilities reports what backend supports for model.
func (r *Router) Capabilities(backend, model string) (models.ModelCapabilities, error) {
	p, err := r.registry.Lookup(backend)
	if err != nil {
		return models.ModelCapabilities{}, err
	}
	return p.Capabilities(model), nil
}

// Chat routes a chat completion request to the configured provider.
func (r *Router) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	p, caps, err := r.resolve(req)
	if err != nil {
		return nil, err
	}

	if err := capability.Ensure(req, caps); err != nil {
		return nil, err
	}

	r.logger.Debug("dispatching chat",
		zap.String("backend", req.Backend),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)),
	)
	return p.Chat(ctx, req)
}

// Stream routes a streaming request. Streaming support is checked before
// the capability gate so unsupported models never reach the provider.
func (r *Router) Stream(ctx context.Context, req models.ChatRequest) (provider.Stream, error) {
	p, caps, err := r.resolve(req)
	if err != nil {
		return nil, err
	}

	if !caps.Streaming {
		return nil, &provider.UnsupportedFeatureError{Feature: provider.FeatureStreaming}
	}
	if err := capability.Ensure(req, caps); err != nil {
		return nil, err
	}

	r.logger.Debug("dispatching stream",
		zap.String("backend", req.Backend),
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)),
	)
	return p.Stream(ctx, req)
}

func (r *Router) resolve(req models.ChatRequest) (provider.Provider, models.ModelCapabilities, error) {
	p, err := r.registry.Lookup(req.Backend)
	if err != nil {
		return nil, models.ModelCapabilities{}, err
	}

	if err := req.Validate(); err != nil {
		return nil, models.ModelCapabilities{}, &provider.ValidationError{Message: err.Error()}
	}

	return p, p.Capabilities(req.Model), nil
}
