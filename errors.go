package idplookup

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/idp-lookup/lookup"
	"github.com/giantswarm/idp-lookup/providers"
)

// Error codes returned in the "error" field of a JSON error body
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
	ErrorCodeUpstreamAuthFailed      = "upstream_auth_failed"
	ErrorCodeUpstreamUnavailable     = "upstream_unavailable"
	ErrorCodeUpstreamError           = "upstream_error"
	ErrorCodeUpstreamInvalidResponse = "upstream_invalid_response"
	ErrorCodeNotFound                = "not_found"
	ErrorCodeMethodNotAllowed        = "method_not_allowed"
	ErrorCodeServerError             = "server_error"
)

// APIError is an error response of the lookup endpoint
type APIError struct {
	Code        string // error code (e.g., "invalid_request", "upstream_error")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewAPIError creates a new API error
func NewAPIError(code, description string, status int) *APIError {
	return &APIError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as constructors
var (
	// ErrInvalidRequest indicates the query is malformed or not searchable
	ErrInvalidRequest = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrRateLimitExceeded indicates the caller exceeded its request rate
	ErrRateLimitExceeded = func(desc string) *APIError {
		return NewAPIError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *APIError {
		return NewAPIError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// ErrorFromLookup maps an error from the lookup path to the response sent to
// the caller. Descriptions never include upstream bodies or token values.
func ErrorFromLookup(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, lookup.ErrInvalidQuery) {
		return ErrInvalidRequest(err.Error())
	}

	switch providers.KindOf(err) {
	case providers.KindAuth:
		if providers.IsNetworkError(err) {
			return NewAPIError(ErrorCodeUpstreamUnavailable,
				"identity provider did not respond", http.StatusGatewayTimeout)
		}
		return NewAPIError(ErrorCodeUpstreamAuthFailed,
			"identity provider rejected the service credentials", http.StatusBadGateway)
	case providers.KindUpstream:
		return NewAPIError(ErrorCodeUpstreamError,
			upstreamDescription(err), http.StatusBadGateway)
	case providers.KindParse:
		return NewAPIError(ErrorCodeUpstreamInvalidResponse,
			"identity provider returned an unreadable response", http.StatusBadGateway)
	}

	return ErrServerError("internal server error")
}

func upstreamDescription(err error) string {
	var perr *providers.Error
	if errors.As(err, &perr) && perr.Status != 0 {
		return fmt.Sprintf("user search failed with status %d", perr.Status)
	}
	return "user search failed"
}
