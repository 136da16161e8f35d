package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"unichat/internal/provider"
)

type requestError struct {
	Status         int
	Message        string
	Type           string
	Tools          []string
	UpstreamStatus int
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message    string   `json:"message"`
	Type       string   `json:"type"`
	Tools      []string `json:"tools,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
}

func (e requestError) body() errorBody {
	return errorBody{Error: errorDetail{
		Message:    e.Message,
		Type:       e.Type,
		Tools:      e.Tools,
		StatusCode: e.UpstreamStatus,
	}}
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, reqErr.body())
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
		_ = c.JSON(he.Code, requestError{Message: message, Type: "invalid_request"}.body())
		return
	}

	_ = c.JSON(http.StatusInternalServerError, requestError{Message: "internal server error", Type: "server_error"}.body())
}

// toHTTPError maps the dispatcher's error kinds onto HTTP statuses.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var (
		unsupportedProvider *provider.UnsupportedProviderError
		unsupportedFeature  *provider.UnsupportedFeatureError
		toolErr             *provider.ToolNotAvailableError
		validationErr       *provider.ValidationError
		providerErr         *provider.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		return requestError{Status: http.StatusBadRequest, Message: err.Error(), Type: "invalid_request"}
	case errors.As(err, &unsupportedProvider):
		return requestError{Status: http.StatusNotFound, Message: err.Error(), Type: "unsupported_provider"}
	case errors.As(err, &unsupportedFeature):
		return requestError{Status: http.StatusUnprocessableEntity, Message: err.Error(), Type: "unsupported_feature"}
	case errors.As(err, &toolErr):
		return requestError{
			Status:  http.StatusUnprocessableEntity,
			Message: err.Error(),
			Type:    "tool_not_available",
			Tools:   toolErr.Tools,
		}
	case errors.As(err, &providerErr):
		return requestError{
			Status:         http.StatusBadGateway,
			Message:        err.Error(),
			Type:           "provider_error",
			UpstreamStatus: providerErr.StatusCode,
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error: " + err.Error(),
		Type:    "transport_error",
	}
}
