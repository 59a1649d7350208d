package idplookup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/idp-lookup/lookup"
	"github.com/giantswarm/idp-lookup/providers/keycloak"
	"github.com/giantswarm/idp-lookup/security"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, keycloak.DefaultCredentialsFile, cfg.CredentialsFile)
	assert.Equal(t, DefaultRequestTimeout, cfg.Provider.RequestTimeout)
	assert.Equal(t, security.DefaultExpiryMargin, cfg.Provider.ExpiryMargin)
	assert.Equal(t, lookup.DefaultAttributes, cfg.Lookup.SearchableAttributes)
	assert.Equal(t, DefaultRateLimitBurst, cfg.RateLimit.Burst)
	assert.Equal(t, 1, cfg.RateLimit.TrustedProxyCount)
	assert.Zero(t, cfg.RateLimit.Rate, "rate limiting is off by default")
	assert.False(t, cfg.Provider.AllowInsecureIssuer)
	assert.NotNil(t, cfg.Logger)
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_AttributesAreACopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookup.SearchableAttributes[0] = "changed"
	assert.Equal(t, "username", lookup.DefaultAttributes[0])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad listen address", mutate: func(c *Config) { c.ListenAddr = "9292" }, wantErr: "invalid listen address"},
		{name: "negative timeout", mutate: func(c *Config) { c.Provider.RequestTimeout = -time.Second }, wantErr: "request timeout"},
		{name: "negative margin", mutate: func(c *Config) { c.Provider.ExpiryMargin = -time.Second }, wantErr: "expiry margin"},
		{name: "no attributes", mutate: func(c *Config) { c.Lookup.SearchableAttributes = []string{} }, wantErr: "at least one searchable attribute"},
		{name: "empty attribute", mutate: func(c *Config) { c.Lookup.SearchableAttributes = []string{"email", ""} }, wantErr: "must not be empty"},
		{name: "negative rate", mutate: func(c *Config) { c.RateLimit.Rate = -1 }, wantErr: "rate limit must not be negative"},
		{name: "rate without burst", mutate: func(c *Config) { c.RateLimit.Rate = 5; c.RateLimit.Burst = -1 }, wantErr: "burst"},
		{name: "negative proxy count", mutate: func(c *Config) { c.RateLimit.TrustedProxyCount = -1 }, wantErr: "trusted proxy count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "nope"
	cfg.RateLimit.Rate = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid listen address")
	assert.Contains(t, err.Error(), "rate limit must not be negative")
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
listenAddr: "127.0.0.1:8080"
credentialsFile: /etc/idp-lookup/client-credentials.json
provider:
  requestTimeout: 5s
  expiryMargin: 30s
  allowInsecureIssuer: true
lookup:
  searchableAttributes: [email]
  exactSearch: true
rateLimit:
  rate: 10
  burst: 5
  trustProxy: true
security:
  enableAuditLogging: true
telemetry:
  enabled: true
  serviceName: lookup-test
shutdownTimeout: 3s
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "/etc/idp-lookup/client-credentials.json", cfg.CredentialsFile)
	assert.Equal(t, 5*time.Second, cfg.Provider.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Provider.ExpiryMargin)
	assert.True(t, cfg.Provider.AllowInsecureIssuer)
	assert.Equal(t, []string{"email"}, cfg.Lookup.SearchableAttributes)
	assert.True(t, cfg.Lookup.ExactSearch)
	assert.Equal(t, 10.0, cfg.RateLimit.Rate)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.TrustProxy)
	assert.Equal(t, 1, cfg.RateLimit.TrustedProxyCount, "unset values get defaults")
	assert.True(t, cfg.Security.EnableAuditLogging)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "lookup-test", cfg.Telemetry.ServiceName)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown key", yaml: "listenAdress: \":1\"\n"},
		{name: "wrong type", yaml: "rateLimit:\n  burst: lots\n"},
		{name: "bad duration", yaml: "shutdownTimeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "failed to parse config"), err.Error())
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":9393\"\n"), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9393", cfg.ListenAddr)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
