// Package capability resolves what a backend supports for a model and
// rejects requests that ask for more.
package capability

import (
	"slices"
	"strings"

	"unichat/internal/models"
	"unichat/internal/provider"
)

// Wildcard in a tool list admits every tool name.
const Wildcard = "*"

// Override replaces parts of a backend's default capabilities for the
// models it matches. Nil fields inherit the default.
type Override struct {
	// Model is an exact id, or a prefix when it ends in "*".
	Model     string
	Tools     []string
	Streaming *bool
	Thinking  *bool
}

func (o Override) matches(model string) bool {
	if prefix, ok := strings.CutSuffix(o.Model, Wildcard); ok {
		return strings.HasPrefix(model, prefix)
	}
	return o.Model == model
}

// Table is a backend's capability policy: defaults plus ordered overrides.
type Table struct {
	defaults  models.ModelCapabilities
	overrides []Override
}

func NewTable(defaults models.ModelCapabilities, overrides ...Override) Table {
	return Table{
		defaults:  clone(defaults),
		overrides: slices.Clone(overrides),
	}
}

// Lookup returns the capabilities for model. The first matching override
// wins. The result is a fresh copy.
func (t Table) Lookup(model string) models.ModelCapabilities {
	caps := clone(t.defaults)
	for _, o := range t.overrides {
		if !o.matches(model) {
			continue
		}
		if o.Tools != nil {
			caps.Tools = slices.Clone(o.Tools)
		}
		if o.Streaming != nil {
			caps.Streaming = *o.Streaming
		}
		if o.Thinking != nil {
			caps.Thinking = *o.Thinking
		}
		break
	}
	return caps
}

func clone(c models.ModelCapabilities) models.ModelCapabilities {
	c.Tools = slices.Clone(c.Tools)
	return c
}

// Ensure fails fast when req asks for features caps does not provide.
// Tools are checked before thinking. Streaming is the caller's concern.
func Ensure(req models.ChatRequest, caps models.ModelCapabilities) error {
	if req.WantsTools() {
		if len(caps.Tools) == 0 {
			return provider.NewToolNotAvailableError(req.Backend, req.ToolNames())
		}
		if !caps.AllowsAllTools() {
			var missing []string
			for _, name := range req.ToolNames() {
				if !slices.Contains(caps.Tools, name) {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				return provider.NewToolNotAvailableError(req.Backend, missing)
			}
		}
	}

	if req.Thinking.Enabled() && !caps.Thinking {
		return &provider.UnsupportedFeatureError{Feature: provider.FeatureThinking}
	}
	return nil
}
