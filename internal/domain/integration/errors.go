package integration

import (
	"errors"
	"fmt"
	"net/http"
)

// ---------------------------------------------------------------------------
// Integration Errors
// ---------------------------------------------------------------------------

var (
	// Lifecycle errors
	ErrIntegrationNotFound      = errors.New("integration: integration not found")
	ErrIntegrationAlreadyExists = errors.New("integration: integration already exists")
	ErrIntegrationDisconnected  = errors.New("integration: integration is disconnected")
	ErrSyncInProgress           = errors.New("integration: sync already in progress")
	ErrSyncSuperseded           = errors.New("integration: sync no longer owns the integration")
	ErrInvalidStatusTransition  = errors.New("integration: invalid status transition")

	// Input errors
	ErrInvalidOrganizationID = errors.New("integration: invalid organization ID")
	ErrUnknownProvider       = errors.New("integration: unknown provider")
	ErrUnsupportedCapability = errors.New("integration: capability not supported by provider")
	ErrInvalidSyncSchedule   = errors.New("integration: invalid sync schedule")
	ErrNoCapabilities        = errors.New("integration: no capabilities requested")

	// Credential errors
	ErrEmptyAuthData       = errors.New("integration: auth data is empty")
	ErrAuthDataCorrupted   = errors.New("integration: auth data could not be decrypted")
	ErrEncryptionKeyNotSet = errors.New("integration: encryption key not set")
)

// ---------------------------------------------------------------------------
// ErrorKind classifies provider failures
// ---------------------------------------------------------------------------

// ErrorKind is the stable classification of a provider failure.
type ErrorKind string

const (
	// ErrorKindAuthentication indicates bad or expired credentials
	ErrorKindAuthentication ErrorKind = "AUTHENTICATION"
	// ErrorKindRateLimit indicates the provider throttled the request
	ErrorKindRateLimit ErrorKind = "RATE_LIMIT"
	// ErrorKindValidation indicates a malformed request or response shape
	ErrorKindValidation ErrorKind = "VALIDATION"
	// ErrorKindNotFound indicates the requested resource does not exist
	ErrorKindNotFound ErrorKind = "NOT_FOUND"
	// ErrorKindSync is the default for unclassified provider-side failures
	ErrorKindSync ErrorKind = "SYNC"
	// ErrorKindConfiguration indicates missing credential fields, raised before any network call
	ErrorKindConfiguration ErrorKind = "CONFIGURATION"
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	return string(k)
}

// StatusCode returns the HTTP-equivalent status code for the kind
func (k ErrorKind) StatusCode() int {
	switch k {
	case ErrorKindAuthentication:
		return http.StatusUnauthorized
	case ErrorKindRateLimit:
		return http.StatusTooManyRequests
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a failure of this kind may succeed when repeated.
// Authentication, validation, configuration and not-found failures are terminal.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindRateLimit, ErrorKindSync:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure raised by a provider adapter.
// Every error leaving an adapter is, or wraps, a *ProviderError.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches another *ProviderError with the same kind, so callers can write
// errors.Is(err, &ProviderError{Kind: ErrorKindAuthentication}).
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newProviderError(kind ErrorKind, provider, message string, cause error) *ProviderError {
	return &ProviderError{
		Kind:       kind,
		Provider:   provider,
		Message:    message,
		StatusCode: kind.StatusCode(),
		Err:        cause,
	}
}

// NewAuthenticationError creates an authentication failure (HTTP 401)
func NewAuthenticationError(provider, message string, cause error) *ProviderError {
	return newProviderError(ErrorKindAuthentication, provider, message, cause)
}

// NewRateLimitError creates a rate limit failure (HTTP 429)
func NewRateLimitError(provider, message string, cause error) *ProviderError {
	return newProviderError(ErrorKindRateLimit, provider, message, cause)
}

// NewValidationError creates a validation failure (HTTP 400)
func NewValidationError(provider, message string, cause error) *ProviderError {
	return newProviderError(ErrorKindValidation, provider, message, cause)
}

// NewNotFoundError creates a not-found failure (HTTP 404)
func NewNotFoundError(provider, message string, cause error) *ProviderError {
	return newProviderError(ErrorKindNotFound, provider, message, cause)
}

// NewSyncError creates a generic provider-side failure
func NewSyncError(provider, message string, cause error) *ProviderError {
	return newProviderError(ErrorKindSync, provider, message, cause)
}

// NewConfigurationError creates a configuration failure
func NewConfigurationError(provider, message string, cause error) *ProviderError {
	return newProviderError(ErrorKindConfiguration, provider, message, cause)
}

// AsProviderError extracts the first *ProviderError in err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of a classified error, or ErrorKindSync for anything
// unclassified.
func KindOf(err error) ErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return ErrorKindSync
}

// IsRetryable reports whether err should be retried by the executor.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}

// Classify wraps an unclassified error as a SyncError. Classified errors are
// returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	return NewSyncError(provider, err.Error(), err)
}
