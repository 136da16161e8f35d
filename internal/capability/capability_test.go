package capability_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"unichat/internal/capability"
	"unichat/internal/config"
	"unichat/internal/models"
	"unichat/internal/provider"
)

func boolPtr(b bool) *bool { return &b }

func request(tools ...string) models.ChatRequest {
	req := models.ChatRequest{
		Backend:  "openai",
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}
	for _, name := range tools {
		req.Tools = append(req.Tools, models.ToolDef{Name: name})
	}
	if len(tools) > 0 {
		req.ToolMode = models.ToolModeAuto
	}
	return req
}

var _ = Describe("Ensure", func() {
	It("accepts a plain request on a model with no capabilities", func() {
		Expect(capability.Ensure(request(), models.ModelCapabilities{})).To(Succeed())
	})

	It("accepts any tool when the wildcard is present", func() {
		caps := models.ModelCapabilities{Tools: []string{capability.Wildcard}}
		Expect(capability.Ensure(request("search", "weather"), caps)).To(Succeed())
	})

	It("rejects tools on a model without tool support, listing every requested tool", func() {
		err := capability.Ensure(request("weather", "search", "weather"), models.ModelCapabilities{})

		var toolErr *provider.ToolNotAvailableError
		Expect(errors.As(err, &toolErr)).To(BeTrue())
		Expect(toolErr.Tools).To(Equal([]string{"search", "weather"}))
		Expect(err).To(MatchError(provider.ErrToolNotAvailable))
	})

	It("reports exactly the tools outside the allow-list", func() {
		caps := models.ModelCapabilities{Tools: []string{"search"}}
		err := capability.Ensure(request("search", "weather", "calc"), caps)

		var toolErr *provider.ToolNotAvailableError
		Expect(errors.As(err, &toolErr)).To(BeTrue())
		Expect(toolErr.Tools).To(Equal([]string{"calc", "weather"}))
		Expect(toolErr.Provider).To(Equal("openai"))
	})

	It("ignores declared tools when tool mode is off", func() {
		req := request("weather")
		req.ToolMode = models.ToolModeOff
		Expect(capability.Ensure(req, models.ModelCapabilities{})).To(Succeed())
	})

	It("rejects thinking on a model without reasoning", func() {
		req := request()
		req.Thinking = models.ThinkingOn

		err := capability.Ensure(req, models.ModelCapabilities{Streaming: true})
		Expect(err).To(MatchError(provider.ErrUnsupportedFeature))

		var featureErr *provider.UnsupportedFeatureError
		Expect(errors.As(err, &featureErr)).To(BeTrue())
		Expect(featureErr.Feature).To(Equal(provider.FeatureThinking))
	})

	It("checks tools before thinking", func() {
		req := request("weather")
		req.Thinking = models.ThinkingOn

		err := capability.Ensure(req, models.ModelCapabilities{})
		Expect(err).To(MatchError(provider.ErrToolNotAvailable))
	})

	It("does not judge streaming", func() {
		Expect(capability.Ensure(request(), models.ModelCapabilities{Streaming: false})).To(Succeed())
	})
})

var _ = Describe("Table", func() {
	defaults := models.ModelCapabilities{
		Tools:     []string{capability.Wildcard},
		Streaming: true,
		Thinking:  false,
	}

	It("returns the defaults for unknown models", func() {
		table := capability.NewTable(defaults)
		Expect(table.Lookup("anything")).To(Equal(defaults))
	})

	It("applies exact overrides and inherits unset fields", func() {
		table := capability.NewTable(defaults, capability.Override{
			Model:    "o1",
			Thinking: boolPtr(true),
		})

		caps := table.Lookup("o1")
		Expect(caps.Thinking).To(BeTrue())
		Expect(caps.Streaming).To(BeTrue())
		Expect(caps.Tools).To(Equal([]string{capability.Wildcard}))
		Expect(table.Lookup("o1-mini").Thinking).To(BeFalse())
	})

	It("matches prefix overrides in order", func() {
		table := capability.NewTable(defaults,
			capability.Override{Model: "gpt-3.5*", Tools: []string{}},
			capability.Override{Model: "gpt-*", Streaming: boolPtr(false)},
		)

		Expect(table.Lookup("gpt-3.5-turbo").Tools).To(BeEmpty())
		Expect(table.Lookup("gpt-3.5-turbo").Streaming).To(BeTrue())
		Expect(table.Lookup("gpt-4o").Streaming).To(BeFalse())
	})

	It("hands out independent copies", func() {
		table := capability.NewTable(defaults)
		caps := table.Lookup("m")
		caps.Tools[0] = "mutated"

		Expect(table.Lookup("m").Tools).To(Equal([]string{capability.Wildcard}))
	})
})

var _ = Describe("FromConfig", func() {
	It("replaces default tools with supported_tools and maps model overrides", func() {
		table := capability.FromConfig(
			models.ModelCapabilities{Tools: []string{capability.Wildcard}, Streaming: true},
			config.ProviderConfig{
				SupportedTools: []string{"search"},
				Models: []config.ModelConfig{
					{ID: "legacy-*", Streaming: boolPtr(false)},
				},
			},
		)

		Expect(table.Lookup("current").Tools).To(Equal([]string{"search"}))
		Expect(table.Lookup("legacy-1").Streaming).To(BeFalse())
		Expect(table.Lookup("legacy-1").Tools).To(Equal([]string{"search"}))
	})

	It("keeps the defaults when nothing is configured", func() {
		defaults := models.ModelCapabilities{Streaming: true}
		Expect(capability.FromConfig(defaults, config.ProviderConfig{}).Lookup("x")).To(Equal(defaults))
	})
})
