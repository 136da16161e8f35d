package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBodyBytes = 64 * 1024

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseAPIError converts a non-success response into a ProviderError.
// Message is the vendor's error.message when present, else the body text.
// The raw body is always kept in Body.
func ParseAPIError(name string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &ProviderError{
			Provider:   name,
			Message:    "failed to read error body",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}

	raw := strings.TrimSpace(string(body))

	message := raw
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{
		Provider:   name,
		Message:    message,
		StatusCode: resp.StatusCode,
		Body:       raw,
	}
}

// DecodeObject decodes a success body as a JSON object.
func DecodeObject(name string, resp *http.Response) (map[string]any, error) {
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &ProviderError{
			Provider:   name,
			Message:    fmt.Sprintf("decode provider response: %v", err),
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	if raw == nil {
		return nil, &ProviderError{
			Provider:   name,
			Message:    "decode provider response: body is not a JSON object",
			StatusCode: resp.StatusCode,
		}
	}
	return raw, nil
}

// FirstChoice returns choices[0] of an OpenAI-shaped body, if present.
func FirstChoice(body map[string]any) (map[string]any, bool) {
	choices, ok := body["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	return choice, ok
}

// StringAt walks nested objects by key and returns the string found there.
func StringAt(obj map[string]any, keys ...string) (string, bool) {
	var current any = obj
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current = m[key]
	}
	s, ok := current.(string)
	return s, ok
}
