package idplookup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/idp-lookup/instrumentation"
	"github.com/giantswarm/idp-lookup/lookup"
	"github.com/giantswarm/idp-lookup/providers/keycloak"
	"github.com/giantswarm/idp-lookup/security"
)

// Defaults
const (
	DefaultListenAddr      = ":9292"
	DefaultRequestTimeout  = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRateLimitBurst  = 20
)

// Config holds the lookup server configuration.
// Structured using composition; the YAML tags match the config file keys.
type Config struct {
	// ListenAddr is the address the HTTP server listens on
	// Default: ":9292"
	ListenAddr string `yaml:"listenAddr"`

	// CredentialsFile is the Keycloak client adapter JSON
	// Default: "client-credentials.json"
	CredentialsFile string `yaml:"credentialsFile"`

	// Provider settings
	Provider ProviderConfig `yaml:"provider"`

	// Lookup settings
	Lookup LookupConfig `yaml:"lookup"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// Security settings
	Security SecurityConfig `yaml:"security"`

	// Telemetry settings
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// ShutdownTimeout bounds the graceful shutdown drain
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger `yaml:"-"`

	// HTTPClient is a custom HTTP client for identity provider requests
	HTTPClient *http.Client `yaml:"-"`

	// Instrumentation is the OpenTelemetry setup shared by all components (optional)
	Instrumentation *instrumentation.Instrumentation `yaml:"-"`
}

// ProviderConfig holds identity provider settings
type ProviderConfig struct {
	// RequestTimeout bounds every call to the identity provider
	// Default: 10s
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// ExpiryMargin is how close to expiry a token is treated as expired
	// Default: 10s
	ExpiryMargin time.Duration `yaml:"expiryMargin"`

	// AllowInsecureIssuer permits a plain HTTP auth-server-url.
	// WARNING: client secrets and tokens travel unencrypted.
	AllowInsecureIssuer bool `yaml:"allowInsecureIssuer"`
}

// LookupConfig holds lookup settings
type LookupConfig struct {
	// SearchableAttributes is the allow-list of attributes callers may query
	// Default: username, email, firstName, lastName
	SearchableAttributes []string `yaml:"searchableAttributes"`

	// ExactSearch asks the provider to match exactly (Keycloak exact=true)
	ExactSearch bool `yaml:"exactSearch"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64 `yaml:"rate"`

	// Burst is the maximum burst size allowed per IP.
	// Default: 20
	Burst int `yaml:"burst"`

	// MaxEntries bounds the number of tracked IPs
	MaxEntries int `yaml:"maxEntries"`

	// CleanupInterval is how often to cleanup inactive rate limiters.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool `yaml:"trustProxy"`

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int `yaml:"trustedProxyCount"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging.
	// Logs token grants, lookups and violations (looked-up values hashed).
	EnableAuditLogging bool `yaml:"enableAuditLogging"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	// Enabled turns on metrics and tracing
	Enabled bool `yaml:"enabled"`

	// ServiceName overrides the reported service name
	ServiceName string `yaml:"serviceName"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values with defaults
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = keycloak.DefaultCredentialsFile
	}
	if c.Provider.RequestTimeout == 0 {
		c.Provider.RequestTimeout = DefaultRequestTimeout
	}
	if c.Provider.ExpiryMargin == 0 {
		c.Provider.ExpiryMargin = security.DefaultExpiryMargin
	}
	if c.Lookup.SearchableAttributes == nil {
		c.Lookup.SearchableAttributes = append([]string(nil), lookup.DefaultAttributes...)
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.TrustedProxyCount == 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err))
	}
	if c.Provider.RequestTimeout < 0 {
		errs = append(errs, errors.New("provider request timeout must not be negative"))
	}
	if c.Provider.ExpiryMargin < 0 {
		errs = append(errs, errors.New("expiry margin must not be negative"))
	}
	if len(c.Lookup.SearchableAttributes) == 0 {
		errs = append(errs, errors.New("at least one searchable attribute is required"))
	}
	for _, attr := range c.Lookup.SearchableAttributes {
		if attr == "" {
			errs = append(errs, errors.New("searchable attributes must not be empty"))
			break
		}
	}
	if c.RateLimit.Rate < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("rate limit burst must be at least 1"))
	}
	if c.RateLimit.TrustedProxyCount < 0 {
		errs = append(errs, errors.New("trusted proxy count must not be negative"))
	}

	return errors.Join(errs...)
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
// Unknown keys are rejected.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}
