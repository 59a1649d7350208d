package idplookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/giantswarm/idp-lookup/instrumentation"
	"github.com/giantswarm/idp-lookup/lookup"
	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/providers/keycloak"
	"github.com/giantswarm/idp-lookup/security"
	"github.com/giantswarm/idp-lookup/token"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// clientIdentifier is implemented by providers that know their client ID
type clientIdentifier interface {
	ClientID() string
}

// Server wires the token manager and the lookup service to one identity
// provider. It is provider-agnostic; see NewKeycloakProvider for the provider
// the CLI uses.
type Server struct {
	Provider        providers.Provider
	Tokens          *token.Manager
	Lookup          *lookup.Service
	RateLimiter     *security.RateLimiter
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Config          *Config
	Logger          *slog.Logger

	// ownsInstrumentation is set when NewServer created Instrumentation
	ownsInstrumentation bool
}

// NewServer creates a lookup server for provider. A nil config uses
// DefaultConfig. No token is requested until the first lookup.
//
// With Telemetry.Enabled and no config.Instrumentation, NewServer creates the
// instrumentation, stores it in config.Instrumentation and shuts it down in
// Shutdown. A provider built before that call does not record spans or
// metrics; set config.Instrumentation before NewKeycloakProvider to cover it.
func NewServer(provider providers.Provider, config *Config) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := config.Logger

	s := &Server{
		Provider:        provider,
		Config:          config,
		Logger:          logger,
		Auditor:         security.NewAuditor(logger, config.Security.EnableAuditLogging),
		Instrumentation: config.Instrumentation,
	}

	if s.Instrumentation == nil && config.Telemetry.Enabled {
		inst, err := instrumentation.New(instrumentation.Config{
			Enabled:     true,
			ServiceName: config.Telemetry.ServiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		s.Instrumentation = inst
		s.ownsInstrumentation = true
		config.Instrumentation = inst
	}

	var clientID string
	if ci, ok := provider.(clientIdentifier); ok {
		clientID = ci.ClientID()
	}

	s.Tokens = token.NewManager(provider, token.Config{
		ClientID:        clientID,
		ExpiryMargin:    config.Provider.ExpiryMargin,
		RequestTimeout:  config.Provider.RequestTimeout,
		Logger:          logger,
		Auditor:         s.Auditor,
		Instrumentation: s.Instrumentation,
	})

	s.Lookup = lookup.NewService(s.Tokens, provider, lookup.Config{
		Logger:          logger,
		Instrumentation: s.Instrumentation,
	})

	if config.RateLimit.Rate > 0 {
		s.RateLimiter = security.NewRateLimiter(security.RateLimitConfig{
			Rate:            config.RateLimit.Rate,
			Burst:           config.RateLimit.Burst,
			MaxEntries:      config.RateLimit.MaxEntries,
			CleanupInterval: config.RateLimit.CleanupInterval,
		}, logger)
	}

	logger.Info("Lookup server configured",
		"provider", provider.Name(),
		"searchable_attributes", config.Lookup.SearchableAttributes,
		"rate_limit", config.RateLimit.Rate,
		"audit_logging", config.Security.EnableAuditLogging,
		"telemetry", s.Instrumentation != nil)

	return s, nil
}

// NewKeycloakProvider loads the credentials file named by config and creates a
// Keycloak provider, performing realm discovery. Every failure is a
// ConfigError.
func NewKeycloakProvider(ctx context.Context, config *Config) (*keycloak.Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()

	creds, err := keycloak.LoadCredentials(config.CredentialsFile)
	if err != nil {
		return nil, err
	}

	return keycloak.NewProvider(ctx, &keycloak.Config{
		Credentials:     creds,
		HTTPClient:      config.HTTPClient,
		RequestTimeout:  config.Provider.RequestTimeout,
		AllowInsecure:   config.Provider.AllowInsecureIssuer,
		ExactSearch:     config.Lookup.ExactSearch,
		Logger:          config.Logger,
		Instrumentation: config.Instrumentation,
	})
}

// Ready reports whether the identity provider is reachable.
func (s *Server) Ready(ctx context.Context) error {
	return s.Provider.HealthCheck(ctx)
}

// Handler returns the HTTP handler serving the lookup endpoint.
func (s *Server) Handler() http.Handler {
	return NewHandler(s, s.Logger).Routes()
}

// ListenAndServe serves the lookup endpoint on Config.ListenAddr until ctx is
// done, then drains in-flight requests for at most Config.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(s.Logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Serving user lookups", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down", "timeout", s.Config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown releases background resources: the rate limiter sweeper and, when
// NewServer created it, the instrumentation providers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
	if s.ownsInstrumentation && s.Instrumentation != nil {
		if err := s.Instrumentation.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown instrumentation: %w", err)
		}
	}
	return nil
}
