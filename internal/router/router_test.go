package router_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"unichat/internal/models"
	"unichat/internal/provider"
	"unichat/internal/router"
)

// stubProvider answers "ok" and counts how often it was reached.
type stubProvider struct {
	name        string
	caps        models.ModelCapabilities
	chatCalls   int
	streamCalls int
	chatErr     error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Capabilities(string) models.ModelCapabilities { return s.caps }

func (s *stubProvider) Chat(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	s.chatCalls++
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return &models.ChatResponse{Backend: s.name, Model: req.Model, Text: "ok"}, nil
}

func (s *stubProvider) Stream(context.Context, models.ChatRequest) (provider.Stream, error) {
	s.streamCalls++
	return provider.NewSliceStream(models.TextDelta("chunk", nil), models.Done(nil)), nil
}

func (s *stubProvider) Close() error { return nil }

var _ = Describe("Router", func() {
	var (
		ctx   context.Context
		dummy *stubProvider
		rt    *router.Router
		req   models.ChatRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		dummy = &stubProvider{
			name: "dummy",
			caps: models.ModelCapabilities{Tools: []string{"search"}, Streaming: true},
		}
		registry, err := provider.NewRegistry(dummy)
		Expect(err).NotTo(HaveOccurred())
		rt = router.New(registry, nil)

		req = models.ChatRequest{
			Backend:  "dummy",
			Model:    "m",
			Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
		}
	})

	Describe("Chat", func() {
		It("dispatches to the named backend", func() {
			resp, err := rt.Chat(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(Equal("ok"))
			Expect(dummy.chatCalls).To(Equal(1))
		})

		It("rejects unknown backends", func() {
			req.Backend = "mystery"
			_, err := rt.Chat(ctx, req)

			var unsupported *provider.UnsupportedProviderError
			Expect(errors.As(err, &unsupported)).To(BeTrue())
			Expect(unsupported.Provider).To(Equal("mystery"))
		})

		It("rejects disallowed tools before calling the adapter", func() {
			req.Tools = []models.ToolDef{{Name: "search"}, {Name: "weather"}}
			req.ToolMode = models.ToolModeAuto

			_, err := rt.Chat(ctx, req)
			var toolErr *provider.ToolNotAvailableError
			Expect(errors.As(err, &toolErr)).To(BeTrue())
			Expect(toolErr.Tools).To(Equal([]string{"weather"}))
			Expect(dummy.chatCalls).To(BeZero())
		})

		It("rejects thinking before calling the adapter", func() {
			req.Thinking = models.ThinkingOn
			_, err := rt.Chat(ctx, req)
			Expect(err).To(MatchError(provider.ErrUnsupportedFeature))
			Expect(dummy.chatCalls).To(BeZero())
		})

		It("rejects malformed requests as validation errors", func() {
			req.Messages = nil
			_, err := rt.Chat(ctx, req)
			Expect(err).To(MatchError(provider.ErrInvalidRequest))
			Expect(dummy.chatCalls).To(BeZero())
		})

		It("rejects duplicate tool names as validation errors", func() {
			req.Tools = []models.ToolDef{{Name: "search"}, {Name: "search"}}
			req.ToolMode = models.ToolModeAuto

			_, err := rt.Chat(ctx, req)
			Expect(err).To(MatchError(provider.ErrInvalidRequest))
			Expect(dummy.chatCalls).To(BeZero())
		})

		It("returns adapter errors unchanged", func() {
			failure := &provider.ProviderError{Provider: "dummy", Message: "boom", StatusCode: 500}
			dummy.chatErr = failure

			_, err := rt.Chat(ctx, req)
			Expect(err).To(BeIdenticalTo(failure))
		})
	})

	Describe("Stream", func() {
		It("yields the adapter's events in order", func() {
			stream, err := rt.Stream(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			defer stream.Close()

			var events []models.StreamEvent
			for event, err := range provider.Events(stream) {
				Expect(err).NotTo(HaveOccurred())
				events = append(events, event)
			}
			Expect(events).To(HaveLen(2))
			Expect(events[0].Text).To(Equal("chunk"))
			Expect(events[1].Type).To(Equal(models.EventDone))
		})

		It("refuses non-streaming models without calling the adapter", func() {
			dummy.caps.Streaming = false

			_, err := rt.Stream(ctx, req)
			var featureErr *provider.UnsupportedFeatureError
			Expect(errors.As(err, &featureErr)).To(BeTrue())
			Expect(featureErr.Feature).To(Equal(provider.FeatureStreaming))
			Expect(dummy.streamCalls).To(BeZero())
		})

		It("rejects unknown backends without calling any adapter", func() {
			req.Backend = "mystery"
			_, err := rt.Stream(ctx, req)

			var unsupported *provider.UnsupportedProviderError
			Expect(errors.As(err, &unsupported)).To(BeTrue())
			Expect(unsupported.Provider).To(Equal("mystery"))
			Expect(dummy.streamCalls).To(BeZero())
		})

		It("checks streaming before tools", func() {
			dummy.caps = models.ModelCapabilities{}
			req.Tools = []models.ToolDef{{Name: "weather"}}
			req.ToolMode = models.ToolModeAuto

			_, err := rt.Stream(ctx, req)
			Expect(err).To(MatchError(provider.ErrUnsupportedFeature))
		})
	})

	Describe("Capabilities", func() {
		It("reports the backend's view of the model", func() {
			caps, err := rt.Capabilities("dummy", "m")
			Expect(err).NotTo(HaveOccurred())
			Expect(caps.Streaming).To(BeTrue())
			Expect(rt.Providers()).To(Equal([]string{"dummy"}))
		})

		It("resolves adapters by name", func() {
			p, err := rt.Provider("dummy")
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(BeIdenticalTo(dummy))
		})

		It("fails for unknown backends", func() {
			_, err := rt.Provider("nope")
			Expect(err).To(MatchError(provider.ErrUnsupportedProvider))

			_, err = rt.Capabilities("nope", "m")
			Expect(err).To(MatchError(provider.ErrUnsupportedProvider))
		})
	})
})
