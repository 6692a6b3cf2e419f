package dto

import (
	"errors"
	"net/http"

	"github.com/churchsync/chms-integration/internal/domain/integration"
)

// Error code constants
// Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeSyncInProgress is used when a sync already holds the integration
	ErrCodeSyncInProgress = "ERR_SYNC_IN_PROGRESS"
	// ErrCodeUnavailable is used when a dependency is not ready
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
	// ErrCodeProviderPrefix prefixes classified provider failures, e.g. ERR_PROVIDER_RATE_LIMIT
	ErrCodeProviderPrefix = "ERR_PROVIDER_"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:       http.StatusInternalServerError,
	ErrCodeInvalidInput:   http.StatusBadRequest,
	ErrCodeNotFound:       http.StatusNotFound,
	ErrCodeInvalidState:   http.StatusUnprocessableEntity,
	ErrCodeSyncInProgress: http.StatusConflict,
	ErrCodeUnavailable:    http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// APIError is a domain error translated for the wire
type APIError struct {
	Status int
	Code   string
	Info   string
}

// FromError classifies a domain or provider error. Internal failures never
// leak their text.
func FromError(err error) APIError {
	switch {
	case errors.Is(err, integration.ErrIntegrationNotFound):
		return newAPIError(ErrCodeNotFound, "integration not found")
	case errors.Is(err, integration.ErrIntegrationDisconnected):
		return newAPIError(ErrCodeInvalidState, "integration is disconnected")
	case errors.Is(err, integration.ErrSyncInProgress):
		return newAPIError(ErrCodeSyncInProgress, "sync already in progress")
	case errors.Is(err, integration.ErrSyncSuperseded):
		return newAPIError(ErrCodeSyncInProgress, "sync was superseded by a newer run")
	}
	if pe, ok := integration.AsProviderError(err); ok {
		return APIError{
			Status: pe.Kind.StatusCode(),
			Code:   ErrCodeProviderPrefix + pe.Kind.String(),
			Info:   pe.Error(),
		}
	}
	return newAPIError(ErrCodeInternal, "internal error")
}

func newAPIError(code, message string) APIError {
	return APIError{Status: GetHTTPStatus(code), Code: code, Info: message}
}

// Response returns the error envelope
func (e APIError) Response() Response {
	return NewErrorResponse(e.Code, e.Info)
}
