package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// wellKnownPath is appended to an issuer URL to locate its discovery document.
const wellKnownPath = "/.well-known/openid-configuration"

// DiscoveryDocument holds the subset of OpenID Provider metadata the proxy uses.
type DiscoveryDocument struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint    string   `json:"revocation_endpoint,omitempty"`
	JWKSUri               string   `json:"jwks_uri,omitempty"`
	GrantTypesSupported   []string `json:"grant_types_supported,omitempty"`
}

// DiscoveryClient fetches OIDC discovery documents.
// It is safe for concurrent use.
type DiscoveryClient struct {
	httpClient   *http.Client
	logger       *slog.Logger
	requireHTTPS bool
}

// DiscoveryOption configures a DiscoveryClient.
type DiscoveryOption func(*DiscoveryClient)

// WithInsecureEndpoints allows plain HTTP issuer and endpoint URLs.
// Keycloak is commonly reached over cluster-internal HTTP.
func WithInsecureEndpoints() DiscoveryOption {
	return func(c *DiscoveryClient) {
		c.requireHTTPS = false
	}
}

// NewDiscoveryClient creates a new OIDC discovery client.
//
// Parameters:
//   - httpClient: HTTP client to use for requests (nil uses default with 10s timeout)
//   - logger: Logger for debug/info messages (nil uses default logger)
func NewDiscoveryClient(httpClient *http.Client, logger *slog.Logger, opts ...DiscoveryOption) *DiscoveryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &DiscoveryClient{
		httpClient:   httpClient,
		logger:       logger,
		requireHTTPS: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RealmIssuerURL returns the issuer URL of a Keycloak realm:
// <auth-server-url>/realms/<realm>.
func RealmIssuerURL(authServerURL, realm string) string {
	return strings.TrimSuffix(authServerURL, "/") + "/realms/" + url.PathEscape(realm)
}

// Discover fetches the discovery document for an issuer.
// A non-success response, an undecodable body or a document without
// authorization and token endpoints is an error.
func (c *DiscoveryClient) Discover(ctx context.Context, issuerURL string) (*DiscoveryDocument, error) {
	if err := ValidateIssuerURL(issuerURL, c.requireHTTPS); err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	discoveryURL := strings.TrimSuffix(issuerURL, "/") + wellKnownPath

	c.logger.Debug("Fetching OIDC discovery document", "url", discoveryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("OIDC discovery failed with status %d", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if err := c.validateDocument(&doc); err != nil {
		return nil, fmt.Errorf("invalid discovery document: %w", err)
	}

	c.logger.Info("OIDC discovery successful",
		"issuer", issuerURL,
		"authorization_endpoint", doc.AuthorizationEndpoint,
		"token_endpoint", doc.TokenEndpoint)

	return &doc, nil
}

// validateDocument checks that the endpoints the proxy depends on are present
// and use an allowed scheme.
func (c *DiscoveryClient) validateDocument(doc *DiscoveryDocument) error {
	required := []struct {
		name string
		url  string
	}{
		{"authorization_endpoint", doc.AuthorizationEndpoint},
		{"token_endpoint", doc.TokenEndpoint},
	}

	for _, endpoint := range required {
		if endpoint.url == "" {
			return fmt.Errorf("%s is required but missing", endpoint.name)
		}
		if err := validateEndpointURL(endpoint.url, c.requireHTTPS); err != nil {
			return fmt.Errorf("%s: %w", endpoint.name, err)
		}
	}

	return nil
}
