// Package keycloak implements the provider interface for Keycloak.
// It authenticates with the client-credentials grant of a confidential client,
// renews with the refresh-token grant and searches users through the admin REST API.
package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/idp-lookup/instrumentation"
	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/providers/oidc"
)

const (
	// ProviderName is the name reported by Name
	ProviderName = "keycloak"

	// DefaultRequestTimeout bounds every call to Keycloak
	DefaultRequestTimeout = 10 * time.Second

	// maxSearchResponseSize caps the user search body read into memory
	maxSearchResponseSize = 10 << 20

	opClientCredentials = "client_credentials"
	opRefresh           = "refresh"
	opSearchUsers       = "search_users"
	opDiscovery         = "discovery"
)

// Config holds Keycloak provider configuration
type Config struct {
	// Credentials identify the client and the realm (required)
	Credentials *Credentials

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client

	// RequestTimeout is the timeout for provider API calls (default: 10s)
	RequestTimeout time.Duration

	// AllowInsecure permits a plain HTTP auth server URL
	AllowInsecure bool

	// ExactSearch adds exact=true to user searches so Keycloak narrows
	// results server side. Matching is always re-checked locally.
	ExactSearch bool

	// Logger is used for debug output (nil uses slog.Default)
	Logger *slog.Logger

	// Instrumentation records provider API metrics and spans (optional)
	Instrumentation *instrumentation.Instrumentation
}

// ClientConfig is the immutable client configuration resolved at startup.
type ClientConfig struct {
	ClientID              string
	ClientSecret          string
	AuthServerURL         string
	Realm                 string
	AuthorizationEndpoint string
	TokenEndpoint         string
}

// Provider implements the providers.Provider interface for Keycloak.
type Provider struct {
	client ClientConfig

	oauthConfig       *oauth2.Config
	credentialsConfig *clientcredentials.Config

	discoveryClient *oidc.DiscoveryClient
	issuerURL       string
	searchURL       string
	exactSearch     bool

	httpClient     *http.Client
	requestTimeout time.Duration
	logger         *slog.Logger

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewProvider creates a Keycloak provider.
// It performs OIDC discovery against the realm to resolve the token endpoint;
// any failure is a ConfigError.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil || cfg.Credentials == nil {
		return nil, providers.NewConfigError("new_provider", errors.New("credentials are required"))
	}
	creds := cfg.Credentials
	if err := creds.Validate(); err != nil {
		return nil, providers.NewConfigError("new_provider", err)
	}
	if err := oidc.ValidateIssuerURL(creds.AuthServerURL, !cfg.AllowInsecure); err != nil {
		return nil, providers.NewConfigError("new_provider", fmt.Errorf("invalid auth-server-url: %w", err))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	var discoveryOpts []oidc.DiscoveryOption
	if cfg.AllowInsecure {
		discoveryOpts = append(discoveryOpts, oidc.WithInsecureEndpoints())
	}
	discoveryClient := oidc.NewDiscoveryClient(httpClient, logger, discoveryOpts...)
	issuerURL := oidc.RealmIssuerURL(creds.AuthServerURL, creds.Realm)

	discoveryCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	doc, err := discoveryClient.Discover(discoveryCtx, issuerURL)
	if err != nil {
		return nil, providers.NewConfigError(opDiscovery, fmt.Errorf("OIDC discovery failed: %w", err))
	}

	client := ClientConfig{
		ClientID:              creds.ClientID(),
		ClientSecret:          creds.ClientSecret(),
		AuthServerURL:         strings.TrimSuffix(creds.AuthServerURL, "/"),
		Realm:                 creds.Realm,
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
	}

	p := &Provider{
		client: client,
		oauthConfig: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   client.AuthorizationEndpoint,
				TokenURL:  client.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		credentialsConfig: &clientcredentials.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			TokenURL:     client.TokenEndpoint,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		discoveryClient: discoveryClient,
		issuerURL:       issuerURL,
		searchURL:       client.AuthServerURL + "/admin/realms/" + url.PathEscape(client.Realm) + "/users/",
		exactSearch:     cfg.ExactSearch,
		httpClient:      httpClient,
		requestTimeout:  requestTimeout,
		logger:          logger,
	}

	if cfg.Instrumentation != nil {
		p.tracer = cfg.Instrumentation.Tracer("provider")
		p.metrics = cfg.Instrumentation.Metrics()
	}

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return ProviderName
}

// Client returns the resolved client configuration.
func (p *Provider) Client() ClientConfig {
	return p.client
}

// ClientID returns the client identifier from the credentials file.
func (p *Provider) ClientID() string {
	return p.client.ClientID
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
// If the context already has a deadline, returns the original context with a no-op cancel.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

func (p *Provider) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, nil
	}
	ctx, span := p.tracer.Start(ctx, "keycloak."+operation)
	instrumentation.AddProviderAttributes(span, ProviderName, operation)
	return ctx, span
}

func (p *Provider) finish(ctx context.Context, span trace.Span, operation string, start time.Time, status int, err error) {
	if span != nil {
		if status != 0 {
			instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrProviderStatus, status))
		}
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		span.End()
	}
	if p.metrics != nil {
		p.metrics.RecordProviderAPICall(ctx, ProviderName, operation, status,
			float64(time.Since(start).Microseconds())/1000, err)
	}
}

// ClientCredentialsToken performs a client-credentials grant.
func (p *Provider) ClientCredentialsToken(ctx context.Context) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx, span := p.startSpan(ctx, opClientCredentials)
	start := time.Now()

	// Use custom HTTP client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.credentialsConfig.Token(ctx)
	if err != nil {
		perr := classifyGrantError(opClientCredentials, err)
		p.finish(ctx, span, opClientCredentials, start, perr.Status, perr)
		return nil, perr
	}

	p.finish(ctx, span, opClientCredentials, start, http.StatusOK, nil)
	return token, nil
}

// RefreshToken performs a refresh-token grant.
// When Keycloak omits a new refresh token the oauth2 library keeps the one
// passed in, so the returned token always carries a refresh token.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, &providers.Error{Kind: providers.KindAuth, Op: opRefresh, Err: errors.New("no refresh token available")}
	}

	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx, span := p.startSpan(ctx, opRefresh)
	start := time.Now()

	// Use custom HTTP client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		perr := classifyGrantError(opRefresh, err)
		p.finish(ctx, span, opRefresh, start, perr.Status, perr)
		return nil, perr
	}

	p.finish(ctx, span, opRefresh, start, http.StatusOK, nil)
	return token, nil
}

// SearchUsers queries the admin users endpoint and returns the raw body.
func (p *Provider) SearchUsers(ctx context.Context, token *oauth2.Token, params url.Values) ([]byte, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx, span := p.startSpan(ctx, opSearchUsers)
	start := time.Now()

	body, status, err := p.searchUsers(ctx, token, params)
	p.finish(ctx, span, opSearchUsers, start, status, err)
	return body, err
}

func (p *Provider) searchUsers(ctx context.Context, token *oauth2.Token, params url.Values) ([]byte, int, error) {
	if token == nil || token.AccessToken == "" {
		return nil, 0, providers.NewAuthError(opSearchUsers, http.StatusUnauthorized, errors.New("no access token"))
	}

	query := url.Values{}
	for key, values := range params {
		query[key] = append([]string(nil), values...)
	}
	if p.exactSearch {
		query.Set("exact", "true")
	}

	searchURL := p.searchURL
	if encoded := query.Encode(); encoded != "" {
		searchURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, providers.NewUpstreamError(opSearchUsers, 0, fmt.Errorf("user search request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchResponseSize))
	if err != nil {
		return nil, resp.StatusCode, providers.NewUpstreamError(opSearchUsers, 0, fmt.Errorf("failed to read user search response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Debug("User search rejected", "status", resp.StatusCode)
		return nil, resp.StatusCode, providers.NewUpstreamError(opSearchUsers, resp.StatusCode,
			fmt.Errorf("user search failed with status %d", resp.StatusCode))
	}

	return body, resp.StatusCode, nil
}

// HealthCheck verifies that the realm discovery document is reachable.
//
// DO NOT expose the returned error messages directly to untrusted clients.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	if _, err := p.discoveryClient.Discover(ctx, p.issuerURL); err != nil {
		return fmt.Errorf("keycloak provider unreachable: %w", err)
	}
	return nil
}

// classifyGrantError converts an oauth2 token endpoint failure into an AuthError.
// A response from the token endpoint keeps its status; anything else is a
// network failure.
func classifyGrantError(op string, err error) *providers.Error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return providers.NewAuthError(op, retrieveErr.Response.StatusCode, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return providers.NewAuthError(op, 0, err)
	}

	// A 2xx response the oauth2 library could not use (e.g. no access_token).
	return &providers.Error{Kind: providers.KindAuth, Op: op, Status: http.StatusOK, Err: err}
}
