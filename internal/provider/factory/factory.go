package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"unichat/internal/config"
	"unichat/internal/provider"
	anthropicProvider "unichat/internal/provider/anthropic"
	openaiProvider "unichat/internal/provider/openai"
	togetherProvider "unichat/internal/provider/together"
)

// Backend names of the fixed provider slots.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Together  = "together"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// BuildRegistry constructs a provider for every configured slot. Slots left
// empty in the configuration are simply not registered.
func BuildRegistry(cfg config.Config, logger *zap.Logger) (*provider.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var providers []provider.Provider

	if slot := cfg.Providers.OpenAI; slot != nil {
		p, err := openaiProvider.New(OpenAI, *slot, newHTTPClient(OpenAI, slot.Timeout), logger)
		if err != nil {
			return nil, fmt.Errorf("initialise openai provider: %w", err)
		}
		providers = append(providers, p)
	}

	if slot := cfg.Providers.Anthropic; slot != nil {
		p, err := anthropicProvider.New(Anthropic, *slot, newHTTPClient(Anthropic, slot.Timeout), logger)
		if err != nil {
			return nil, fmt.Errorf("initialise anthropic provider: %w", err)
		}
		providers = append(providers, p)
	}

	if slot := cfg.Providers.Together; slot != nil {
		p, err := togetherProvider.New(Together, *slot, newHTTPClient(Together, slot.Timeout), logger)
		if err != nil {
			return nil, fmt.Errorf("initialise together provider: %w", err)
		}
		providers = append(providers, p)
	}

	registry, err := provider.NewRegistry(providers...)
	if err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}

	logger.Info("providers registered", zap.Strings("providers", registry.Names()))
	return registry, nil
}

func newHTTPClient(name string, timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return name + " " + r.Method + " " + r.URL.Path
			}),
		),
	}
}
