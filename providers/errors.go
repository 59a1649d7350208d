package providers

import (
	"errors"
	"fmt"
)

// Kind classifies provider failures.
type Kind int

const (
	// KindConfig is a malformed or missing credentials file or discovery document.
	KindConfig Kind = iota + 1
	// KindAuth is a rejected, failed or timed out token grant.
	KindAuth
	// KindUpstream is a non-success response from the user search endpoint.
	KindUpstream
	// KindParse is a response body that is not the expected JSON.
	KindParse
)

// String returns the error kind name.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindAuth:
		return "AuthError"
	case KindUpstream:
		return "UpstreamError"
	case KindParse:
		return "ParseError"
	default:
		return "UnknownError"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrConfig   = &Error{Kind: KindConfig}
	ErrAuth     = &Error{Kind: KindAuth}
	ErrUpstream = &Error{Kind: KindUpstream}
	ErrParse    = &Error{Kind: KindParse}
)

// Error is a classified provider failure.
type Error struct {
	Kind Kind

	// Op is the operation that failed (e.g., "client_credentials", "refresh", "search_users")
	Op string

	// Status is the upstream HTTP status code, zero when no response was received
	Status int

	// Network is true when no response was received (transport error or timeout)
	Network bool

	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewConfigError wraps err as a ConfigError.
func NewConfigError(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// NewAuthError wraps err as an AuthError. A zero status marks a network failure.
func NewAuthError(op string, status int, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Status: status, Network: status == 0, Err: err}
}

// NewUpstreamError wraps err as an UpstreamError.
func NewUpstreamError(op string, status int, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Status: status, Network: status == 0, Err: err}
}

// NewParseError wraps err as a ParseError.
func NewParseError(op string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}

// IsNetworkError reports whether err is a provider error raised without an upstream response.
func IsNetworkError(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Network
	}
	return false
}
