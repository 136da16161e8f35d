package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/net/http/httpguts"
)

const (
	envPrefix   = "UNICHAT_"
	defaultPort = 8080
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var reasoningEfforts = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
}

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Providers ProvidersConfig `koanf:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port    int  `koanf:"port"`
	Tracing bool `koanf:"tracing"`
}

// ProvidersConfig holds the fixed backend slots. A nil slot is not registered.
type ProvidersConfig struct {
	OpenAI    *ProviderConfig `koanf:"openai"`
	Anthropic *ProviderConfig `koanf:"anthropic"`
	Together  *ProviderConfig `koanf:"together"`
}

// Slots returns the configured slots keyed by backend name.
func (p ProvidersConfig) Slots() map[string]ProviderConfig {
	slots := make(map[string]ProviderConfig, 3)
	if p.OpenAI != nil {
		slots["openai"] = *p.OpenAI
	}
	if p.Anthropic != nil {
		slots["anthropic"] = *p.Anthropic
	}
	if p.Together != nil {
		slots["together"] = *p.Together
	}
	return slots
}

// ProviderConfig captures authentication, transport and capability policy
// for one backend.
type ProviderConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	Headers Headers       `koanf:"headers"`
	// SupportedTools replaces the backend's default tool allow-list.
	SupportedTools []string      `koanf:"supported_tools"`
	Models         []ModelConfig `koanf:"models"`

	ReasoningEffort  string `koanf:"reasoning_effort"`
	DefaultMaxTokens int    `koanf:"default_max_tokens"`
	ThinkingBudget   int    `koanf:"thinking_budget"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// ModelConfig overrides capabilities for models matching ID.
// An ID ending in "*" matches by prefix.
type ModelConfig struct {
	ID        string   `koanf:"id"`
	Tools     []string `koanf:"tools"`
	Streaming *bool    `koanf:"streaming"`
	Thinking  *bool    `koanf:"thinking"`
}

// Load reads the YAML file at path, overlays UNICHAT_* environment
// variables and validates the result. A missing file is not an error when
// the environment supplies the configuration.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		if err := k.Load(file.Provider(absPath), YAMLParser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
			}
		}
	}

	// UNICHAT_PROVIDERS__OPENAI__API_KEY -> providers.openai.api_key
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	if !k.Exists("server.port") {
		if err := k.Set("server.port", defaultPort); err != nil {
			return Config{}, fmt.Errorf("set default port: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	for _, slot := range []*ProviderConfig{cfg.Providers.OpenAI, cfg.Providers.Anthropic, cfg.Providers.Together} {
		if slot == nil {
			continue
		}
		slot.APIKey = substituteEnvVars(slot.APIKey)
		slot.BaseURL = substituteEnvVars(slot.BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	for name, provider := range c.Providers.Slots() {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}
	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.APIKey) == "" {
		return fmt.Errorf("provider %s: api_key must be provided", name)
	}
	if provider.Timeout < 0 {
		return fmt.Errorf("provider %s: timeout must not be negative", name)
	}
	if provider.DefaultMaxTokens < 0 {
		return fmt.Errorf("provider %s: default_max_tokens must not be negative", name)
	}
	if provider.ThinkingBudget < 0 {
		return fmt.Errorf("provider %s: thinking_budget must not be negative", name)
	}
	if provider.ReasoningEffort != "" {
		if _, ok := reasoningEfforts[provider.ReasoningEffort]; !ok {
			return fmt.Errorf("provider %s: reasoning_effort %q must be one of low, medium or high", name, provider.ReasoningEffort)
		}
	}

	for _, model := range provider.Models {
		if strings.TrimSpace(model.ID) == "" {
			return fmt.Errorf("provider %s: model id must not be empty", name)
		}
	}

	for headerKey := range provider.Headers {
		if !httpguts.ValidHeaderFieldName(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid HTTP header name", name, headerKey)
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
