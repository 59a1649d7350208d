// Package providers defines the identity provider interface consumed by the
// token manager and the lookup service, plus the error kinds they share.
package providers

import (
	"context"
	"net/url"

	"golang.org/x/oauth2"
)

// Provider defines the operations the proxy needs from an identity provider.
// Tokens are standard oauth2.Token values; the provider-reported lifetimes are
// carried in the token's extra fields (see AccessLifetime and RefreshLifetime).
type Provider interface {
	// Name returns the provider name (e.g., "keycloak")
	Name() string

	// ClientCredentialsToken performs a client-credentials grant against the token endpoint
	ClientCredentialsToken(ctx context.Context) (*oauth2.Token, error)

	// RefreshToken performs a refresh-token grant with the given refresh token
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// SearchUsers issues an authenticated user search with the given query
	// parameters and returns the raw response body. A non-success status is
	// reported as an UpstreamError; the body is not interpreted.
	SearchUsers(ctx context.Context, token *oauth2.Token, params url.Values) ([]byte, error)

	// HealthCheck verifies that the provider is reachable.
	HealthCheck(ctx context.Context) error
}
