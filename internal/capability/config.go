package capability

import (
	"unichat/internal/config"
	"unichat/internal/models"
)

// FromConfig builds a table from a backend's defaults and its configuration.
// supported_tools, when set, replaces the default tool allow-list.
func FromConfig(defaults models.ModelCapabilities, cfg config.ProviderConfig) Table {
	if cfg.SupportedTools != nil {
		defaults.Tools = cfg.SupportedTools
	}

	overrides := make([]Override, 0, len(cfg.Models))
	for _, model := range cfg.Models {
		overrides = append(overrides, Override{
			Model:     model.ID,
			Tools:     model.Tools,
			Streaming: model.Streaming,
			Thinking:  model.Thinking,
		})
	}
	return NewTable(defaults, overrides...)
}
