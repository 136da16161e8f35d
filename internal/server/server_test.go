package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unichat/internal/config"
	"unichat/internal/models"
	"unichat/internal/provider"
	"unichat/internal/router"
)

type fakeProvider struct {
	caps      models.ModelCapabilities
	chatErr   error
	events    []models.StreamEvent
	streamErr error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Capabilities(string) models.ModelCapabilities { return f.caps }

func (f *fakeProvider) Chat(_ context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &models.ChatResponse{Backend: "fake", Model: req.Model, Text: "pong"}, nil
}

func (f *fakeProvider) Stream(context.Context, models.ChatRequest) (provider.Stream, error) {
	return &scriptedStream{events: f.events, err: f.streamErr}, nil
}

func (f *fakeProvider) Close() error { return nil }

// scriptedStream replays events then fails with err, or ends cleanly when err is nil.
type scriptedStream struct {
	events []models.StreamEvent
	err    error
}

func (s *scriptedStream) Recv() (models.StreamEvent, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return models.StreamEvent{}, s.err
		}
		return models.StreamEvent{}, io.EOF
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func (s *scriptedStream) Close() error { return nil }

func newTestServer(t *testing.T, fake *fakeProvider) http.Handler {
	t.Helper()
	registry, err := provider.NewRegistry(fake)
	require.NoError(t, err)

	srv, err := New(config.Config{Server: config.ServerConfig{Port: 8080}}, router.New(registry, nil), nil)
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const pingBody = `{"backend":"fake","model":"m","messages":[{"role":"user","content":"ping"}]}`

func TestHealthAndProviders(t *testing.T) {
	h := newTestServer(t, &fakeProvider{})

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(t, h, http.MethodGet, "/v1/providers/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"providers":["fake"]}`, rec.Body.String())
}

func TestCapabilitiesEndpoint(t *testing.T) {
	h := newTestServer(t, &fakeProvider{caps: models.ModelCapabilities{Streaming: true}})

	rec := do(t, h, http.MethodGet, "/v1/capabilities?backend=fake&model=m", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"backend":"fake","model":"m","tools":[],"streaming":true,"thinking":false}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/capabilities?backend=fake", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/capabilities?backend=other&model=m", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unsupported_provider", decodeError(t, rec).Type)
}

func TestChatEndpoint(t *testing.T) {
	h := newTestServer(t, &fakeProvider{})

	rec := do(t, h, http.MethodPost, "/v1/chat", pingBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"backend":"fake","model":"m","text":"pong"}`, rec.Body.String())
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		fake       *fakeProvider
		body       string
		wantStatus int
		wantType   string
		check      func(t *testing.T, detail errorDetail)
	}{
		{
			name:       "empty body",
			fake:       &fakeProvider{},
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request",
		},
		{
			name:       "missing messages",
			fake:       &fakeProvider{},
			body:       `{"backend":"fake","model":"m","messages":[]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request",
		},
		{
			name:       "trailing data",
			fake:       &fakeProvider{},
			body:       pingBody + `{}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request",
		},
		{
			name:       "unknown backend",
			fake:       &fakeProvider{},
			body:       `{"backend":"nope","model":"m","messages":[{"role":"user","content":"x"}]}`,
			wantStatus: http.StatusNotFound,
			wantType:   "unsupported_provider",
		},
		{
			name:       "tool not available",
			fake:       &fakeProvider{},
			body:       `{"backend":"fake","model":"m","messages":[{"role":"user","content":"x"}],"tools":[{"name":"weather"}],"tool_mode":"auto"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   "tool_not_available",
			check: func(t *testing.T, detail errorDetail) {
				assert.Equal(t, []string{"weather"}, detail.Tools)
			},
		},
		{
			name:       "thinking unsupported",
			fake:       &fakeProvider{},
			body:       `{"backend":"fake","model":"m","messages":[{"role":"user","content":"x"}],"thinking":"on"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   "unsupported_feature",
		},
		{
			name:       "upstream failure",
			fake:       &fakeProvider{chatErr: &provider.ProviderError{Provider: "fake", Message: "quota", StatusCode: 429}},
			body:       pingBody,
			wantStatus: http.StatusBadGateway,
			wantType:   "provider_error",
			check: func(t *testing.T, detail errorDetail) {
				assert.Equal(t, 429, detail.StatusCode)
			},
		},
		{
			name:       "transport failure",
			fake:       &fakeProvider{chatErr: errors.New("dial tcp: refused")},
			body:       pingBody,
			wantStatus: http.StatusBadGateway,
			wantType:   "transport_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(t, tt.fake), http.MethodPost, "/v1/chat", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			detail := decodeError(t, rec)
			assert.Equal(t, tt.wantType, detail.Type)
			assert.NotEmpty(t, detail.Message)
			if tt.check != nil {
				tt.check(t, detail)
			}
		})
	}
}

func TestChatStreamEndpoint(t *testing.T) {
	h := newTestServer(t, &fakeProvider{
		caps:   models.ModelCapabilities{Streaming: true},
		events: []models.StreamEvent{models.TextDelta("Hel", nil), models.TextDelta("lo", nil), models.Done(nil)},
	})

	rec := do(t, h, http.MethodPost, "/v1/chat/stream", pingBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"data: {\"type\":\"text_delta\",\"text\":\"Hel\"}\n\n"+
			"data: {\"type\":\"text_delta\",\"text\":\"lo\"}\n\n"+
			"data: {\"type\":\"done\"}\n\n",
		rec.Body.String())
}

func TestChatStreamRefusedBeforeHeaders(t *testing.T) {
	h := newTestServer(t, &fakeProvider{caps: models.ModelCapabilities{Streaming: false}})

	rec := do(t, h, http.MethodPost, "/v1/chat/stream", pingBody)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "unsupported_feature", decodeError(t, rec).Type)
}

func TestChatStreamReportsMidStreamFailure(t *testing.T) {
	h := newTestServer(t, &fakeProvider{
		caps:      models.ModelCapabilities{Streaming: true},
		events:    []models.StreamEvent{models.TextDelta("partial", nil)},
		streamErr: io.ErrUnexpectedEOF,
	})

	rec := do(t, h, http.MethodPost, "/v1/chat/stream", pingBody)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: {\"type\":\"text_delta\",\"text\":\"partial\"}\n\n"))
	assert.Contains(t, body, "event: error\ndata: ")
	assert.NotContains(t, body, `"type":"done"`)
}

func TestToHTTPErrorPassesRequestErrorsThrough(t *testing.T) {
	original := requestError{Status: http.StatusTeapot, Message: "short and stout", Type: "teapot"}
	assert.Equal(t, original, toHTTPError(original))
}
