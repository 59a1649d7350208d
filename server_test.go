package idplookup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/idp-lookup/internal/testutil"
	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/providers/mock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(mock.NewMockProvider(), &Config{Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.NotNil(t, srv.Tokens)
	assert.NotNil(t, srv.Lookup)
	assert.NotNil(t, srv.Auditor)
	assert.Nil(t, srv.RateLimiter, "rate limiting is opt-in")
	assert.Nil(t, srv.Instrumentation)
	assert.Equal(t, DefaultListenAddr, srv.Config.ListenAddr, "defaults applied")

	_, ok := srv.Tokens.State()
	assert.False(t, ok, "no grant before the first lookup")
}

func TestNewServer_Errors(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider is required")

	_, err = NewServer(mock.NewMockProvider(), &Config{ListenAddr: "bogus", Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewServer_RateLimiterAndTelemetry(t *testing.T) {
	cfg := &Config{
		Logger:    quietLogger(),
		RateLimit: RateLimitConfig{Rate: 5, Burst: 2},
		Telemetry: TelemetryConfig{Enabled: true},
	}
	srv, err := NewServer(mock.NewMockProvider(), cfg)
	require.NoError(t, err)

	assert.NotNil(t, srv.RateLimiter)
	require.NotNil(t, srv.Instrumentation)
	assert.True(t, srv.ownsInstrumentation)
	assert.Same(t, srv.Instrumentation, cfg.Instrumentation, "created instrumentation is shared through the config")
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServer_Ready(t *testing.T) {
	p := mock.NewMockProvider()
	srv, err := NewServer(p, &Config{Logger: quietLogger()})
	require.NoError(t, err)

	assert.NoError(t, srv.Ready(context.Background()))

	p.HealthCheckFunc = func(ctx context.Context) error { return errors.New("down") }
	assert.Error(t, srv.Ready(context.Background()))
}

func TestServer_Serve_GracefulShutdown(t *testing.T) {
	srv, err := NewServer(mock.NewMockProvider(), &Config{Logger: quietLogger(), ShutdownTimeout: time.Second})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + PathHealthz)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServer_ListenAndServe_BadAddress(t *testing.T) {
	srv, err := NewServer(mock.NewMockProvider(), &Config{Logger: quietLogger()})
	require.NoError(t, err)
	srv.Config.ListenAddr = "256.0.0.1:1"

	err = srv.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func writeCredentials(t *testing.T, fk *testutil.FakeKeycloak) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client-credentials.json")
	require.NoError(t, os.WriteFile(path, fk.CredentialsJSON(), 0o600))
	return path
}

func TestNewKeycloakProvider(t *testing.T) {
	fk := testutil.NewFakeKeycloak(t)

	p, err := NewKeycloakProvider(context.Background(), &Config{
		CredentialsFile: writeCredentials(t, fk),
		HTTPClient:      fk.Server.Client(),
		Provider:        ProviderConfig{AllowInsecureIssuer: true},
		Logger:          quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, testutil.FakeClientID, p.ClientID())
	assert.True(t, strings.HasSuffix(p.Client().TokenEndpoint, "/protocol/openid-connect/token"))
}

func TestNewKeycloakProvider_ConfigErrors(t *testing.T) {
	fk := testutil.NewFakeKeycloak(t)

	tests := []struct {
		name string
		cfg  func() *Config
	}{
		{
			name: "missing credentials file",
			cfg: func() *Config {
				return &Config{CredentialsFile: filepath.Join(t.TempDir(), "nope.json"), Logger: quietLogger()}
			},
		},
		{
			name: "plain http issuer without opt-in",
			cfg: func() *Config {
				return &Config{CredentialsFile: writeCredentials(t, fk), HTTPClient: fk.Server.Client(), Logger: quietLogger()}
			},
		},
		{
			name: "discovery fails",
			cfg: func() *Config {
				fk.Configure(func(fk *testutil.FakeKeycloak) { fk.DiscoveryStatus = http.StatusNotFound })
				t.Cleanup(func() { fk.Configure(func(fk *testutil.FakeKeycloak) { fk.DiscoveryStatus = 0 }) })
				return &Config{
					CredentialsFile: writeCredentials(t, fk),
					HTTPClient:      fk.Server.Client(),
					Provider:        ProviderConfig{AllowInsecureIssuer: true},
					Logger:          quietLogger(),
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKeycloakProvider(context.Background(), tt.cfg())
			require.Error(t, err)
			assert.ErrorIs(t, err, providers.ErrConfig)
		})
	}
}

func TestServer_AuditLogging(t *testing.T) {
	var buf bytes.Buffer
	p := mock.NewMockProvider()
	srv, err := NewServer(p, &Config{
		Logger:   slog.New(slog.NewJSONHandler(&buf, nil)),
		Security: SecurityConfig{EnableAuditLogging: true},
	})
	require.NoError(t, err)

	_, err = srv.Tokens.ValidToken(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"event_type":"token_issued"`)
	assert.NotContains(t, buf.String(), "mock-access-token", "token values are never logged")
}
