package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/radio-control/daxiq/internal/auth"
	"github.com/radio-control/daxiq/internal/session"
	"github.com/radio-control/daxiq/internal/smartsdr"
)

// APIError is an error that already knows its HTTP representation.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError converts an error to an HTTP status code and JSON body.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	details := errorDetails(err)
	switch {
	case errors.Is(err, session.ErrAlreadyStarted):
		return http.StatusConflict, marshalErrorResponse("ALREADY_STARTED", "Session is already running", details)
	case errors.Is(err, session.ErrDiscoveryEmpty):
		return http.StatusNotFound, marshalErrorResponse("NOT_FOUND", "No radio answered discovery", details)
	case errors.Is(err, smartsdr.ErrCommandTimeout):
		return http.StatusGatewayTimeout, marshalErrorResponse("TIMEOUT", "Radio did not answer in time", details)
	case errors.Is(err, session.ErrConnectFailure),
		errors.Is(err, smartsdr.ErrNotConnected),
		errors.Is(err, smartsdr.ErrConnectionClosed):
		return http.StatusServiceUnavailable, marshalErrorResponse("UNAVAILABLE", "Radio is unavailable", details)
	case errors.Is(err, smartsdr.ErrCommandRejected),
		errors.Is(err, smartsdr.ErrAllRejected),
		errors.Is(err, session.ErrSetupFailure):
		return http.StatusBadGateway, marshalErrorResponse("REJECTED", "Radio rejected the request", details)
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, marshalErrorResponse("UNAUTHORIZED", "Invalid token", nil)
	}

	return http.StatusInternalServerError, marshalErrorResponse("INTERNAL", "Internal server error", details)
}

// errorDetails exposes the failed start step and radio status, when known.
func errorDetails(err error) map[string]interface{} {
	details := map[string]interface{}{"error": err.Error()}
	if step := session.StepOf(err); step != "" {
		details["step"] = step
	}
	if status, ok := smartsdr.StatusOf(err); ok {
		details["status"] = fmt.Sprintf("0x%08X", status)
	}
	return details
}

func marshalErrorResponse(code, message string, details interface{}) []byte {
	body, err := json.Marshal(ErrorResponse(code, message, details))
	if err != nil {
		body, _ = json.Marshal(ErrorResponse("INTERNAL", "Failed to marshal error response", nil))
	}
	return body
}
