package provider

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Feature names reported by UnsupportedFeatureError.
const (
	FeatureStreaming = "streaming"
	FeatureThinking  = "thinking"
)

var (
	// ErrUnsupportedProvider indicates the requested backend is not registered.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrUnsupportedFeature indicates the model cannot serve a requested feature.
	ErrUnsupportedFeature = errors.New("unsupported feature")
	// ErrToolNotAvailable indicates one or more requested tools are not allowed.
	ErrToolNotAvailable = errors.New("tool not available")
	// ErrProviderFailure indicates the upstream call failed or returned garbage.
	ErrProviderFailure = errors.New("provider failure")
	// ErrInvalidRequest indicates a request that cannot be serialised.
	ErrInvalidRequest = errors.New("invalid request")
)

// UnsupportedProviderError reports a backend name with no registered adapter.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("provider %q is not available", e.Provider)
}

func (e *UnsupportedProviderError) Is(target error) bool {
	return target == ErrUnsupportedProvider
}

// UnsupportedFeatureError reports a feature the resolved model does not support.
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("feature %q is not supported", e.Feature)
}

func (e *UnsupportedFeatureError) Is(target error) bool {
	return target == ErrUnsupportedFeature
}

// ToolNotAvailableError lists requested tools the model may not use.
type ToolNotAvailableError struct {
	Provider string
	Tools    []string
}

// NewToolNotAvailableError deduplicates and sorts tools.
func NewToolNotAvailableError(provider string, tools []string) *ToolNotAvailableError {
	sorted := slices.Clone(tools)
	slices.Sort(sorted)
	return &ToolNotAvailableError{
		Provider: provider,
		Tools:    slices.Compact(sorted),
	}
}

func (e *ToolNotAvailableError) Error() string {
	return fmt.Sprintf("%s: tool(s) not available: %s", e.Provider, strings.Join(e.Tools, ", "))
}

func (e *ToolNotAvailableError) Is(target error) bool {
	return target == ErrToolNotAvailable
}

// ProviderError reports a failed or undecodable upstream call.
// StatusCode is zero when no HTTP status applies. Body holds the raw
// upstream response body, when one was read.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailure
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ValidationError reports a request that is structurally malformed or that
// a vendor's wire format cannot express.
type ValidationError struct {
	Provider string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Provider == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("%s: invalid request: %s", e.Provider, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}
