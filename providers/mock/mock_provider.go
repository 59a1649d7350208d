// Package mock provides mock implementations of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/idp-lookup/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// ClientCredentialsTokenFunc is called when ClientCredentialsToken() is invoked
	ClientCredentialsTokenFunc func(ctx context.Context) (*oauth2.Token, error)

	// RefreshTokenFunc is called when RefreshToken() is invoked
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// SearchUsersFunc is called when SearchUsers() is invoked
	SearchUsersFunc func(ctx context.Context, token *oauth2.Token, params url.Values) ([]byte, error)

	// HealthCheckFunc is called when HealthCheck() is invoked
	HealthCheckFunc func(ctx context.Context) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// NewMockProvider creates a new mock provider with default implementations.
// Grants return tokens valid for 300s with a 1800s refresh lifetime; search
// returns an empty array.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		ClientCredentialsTokenFunc: func(ctx context.Context) (*oauth2.Token, error) {
			return NewToken("mock-access-token", "mock-refresh-token", 300, 1800), nil
		},
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return NewToken("new-mock-access-token", "new-mock-refresh-token", 300, 1800), nil
		},
		SearchUsersFunc: func(ctx context.Context, token *oauth2.Token, params url.Values) ([]byte, error) {
			return []byte("[]"), nil
		},
		HealthCheckFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// NewToken builds a token shaped like a decoded Keycloak grant response.
// A negative refreshExpiresIn omits refresh_expires_in.
func NewToken(accessToken, refreshToken string, expiresIn, refreshExpiresIn int) *oauth2.Token {
	extra := map[string]any{providers.FieldExpiresIn: float64(expiresIn)}
	if refreshExpiresIn >= 0 {
		extra[providers.FieldRefreshExpiresIn] = float64(refreshExpiresIn)
	}
	tok := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		ExpiresIn:    int64(expiresIn),
	}
	return tok.WithExtra(extra)
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	// LOCK PATTERN: Lock only to update counter and read function reference
	// Release lock BEFORE calling user function to prevent deadlocks
	// (user function might call other mock methods)
	m.mu.Lock()
	m.CallCounts["Name"]++
	fn := m.NameFunc
	m.mu.Unlock()

	if fn == nil {
		return "mock" // Safe default
	}
	return fn()
}

// ClientCredentialsToken performs a client-credentials grant
func (m *MockProvider) ClientCredentialsToken(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	m.CallCounts["ClientCredentialsToken"]++
	fn := m.ClientCredentialsTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("ClientCredentialsTokenFunc not configured")
	}
	return fn(ctx)
}

// RefreshToken performs a refresh-token grant
func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.CallCounts["RefreshToken"]++
	fn := m.RefreshTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return fn(ctx, refreshToken)
}

// SearchUsers searches users and returns the raw response body
func (m *MockProvider) SearchUsers(ctx context.Context, token *oauth2.Token, params url.Values) ([]byte, error) {
	m.mu.Lock()
	m.CallCounts["SearchUsers"]++
	fn := m.SearchUsersFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("SearchUsersFunc not configured")
	}
	return fn(ctx, token, params)
}

// HealthCheck checks provider reachability
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.CallCounts["HealthCheck"]++
	fn := m.HealthCheckFunc
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
}

// Ensure MockProvider implements providers.Provider
var _ providers.Provider = (*MockProvider)(nil)
