package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
		network  bool
	}{
		{name: "config", err: NewConfigError("load", errors.New("boom")), sentinel: ErrConfig, kind: KindConfig},
		{name: "auth with status", err: NewAuthError("refresh", 401, errors.New("denied")), sentinel: ErrAuth, kind: KindAuth},
		{name: "auth network", err: NewAuthError("refresh", 0, errors.New("dial tcp")), sentinel: ErrAuth, kind: KindAuth, network: true},
		{name: "upstream", err: NewUpstreamError("search_users", 500, errors.New("oops")), sentinel: ErrUpstream, kind: KindUpstream},
		{name: "parse", err: NewParseError("lookup", errors.New("bad json")), sentinel: ErrParse, kind: KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)

			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
			if got := KindOf(wrapped); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			if got := IsNetworkError(wrapped); got != tt.network {
				t.Errorf("IsNetworkError() = %v, want %v", got, tt.network)
			}
		})
	}
}

func TestErrorIsDistinguishesKinds(t *testing.T) {
	err := NewUpstreamError("search_users", 502, nil)
	if errors.Is(err, ErrAuth) {
		t.Error("UpstreamError should not match ErrAuth")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf(plain error) should be zero")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewAuthError("client_credentials", 401, errors.New("invalid_client"))
	want := "AuthError (client_credentials): status 401: invalid_client"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose the cause")
	}
}
