package token

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/oauth2"

	"github.com/giantswarm/idp-lookup/instrumentation"
	"github.com/giantswarm/idp-lookup/internal/testutil"
	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/providers/mock"
	"github.com/giantswarm/idp-lookup/security"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, p *mock.MockProvider, options ...func(*Config)) (*Manager, *testutil.MockTime) {
	t.Helper()

	clock := testutil.NewMockTime(epoch)
	cfg := Config{
		ClientID:       "idp-lookup",
		Clock:          clock.Now,
		RequestTimeout: time.Second,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	return NewManager(p, cfg), clock
}

func TestValidToken_FirstCallAcquires(t *testing.T) {
	p := mock.NewMockProvider()
	m, clock := newTestManager(t, p)

	_, ok := m.State()
	require.False(t, ok, "no state before first use")

	tok, err := m.ValidToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mock-access-token", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.Empty(t, tok.RefreshToken, "refresh token must not leak to callers")
	assert.Equal(t, 300*time.Second, tok.Expiry.Sub(clock.Now()), "remaining lifetime should equal expires_in")

	st, ok := m.State()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(1800*time.Second), st.RefreshExpiry)

	assert.Equal(t, 1, p.GetCallCount("ClientCredentialsToken"))
	assert.Equal(t, 0, p.GetCallCount("RefreshToken"))
}

func TestValidToken_Transitions(t *testing.T) {
	tests := []struct {
		name         string
		advance      time.Duration
		wantToken    string
		wantAcquires int
		wantRefresh  int
	}{
		{name: "both valid", advance: 100 * time.Second, wantToken: "mock-access-token", wantAcquires: 1, wantRefresh: 0},
		{name: "access just outside margin", advance: 289 * time.Second, wantToken: "mock-access-token", wantAcquires: 1, wantRefresh: 0},
		{name: "access exactly at margin", advance: 290 * time.Second, wantToken: "new-mock-access-token", wantAcquires: 1, wantRefresh: 1},
		{name: "access expired", advance: 600 * time.Second, wantToken: "new-mock-access-token", wantAcquires: 1, wantRefresh: 1},
		{name: "refresh within margin", advance: 1791 * time.Second, wantToken: "mock-access-token", wantAcquires: 2, wantRefresh: 0},
		{name: "refresh expired", advance: time.Hour, wantToken: "mock-access-token", wantAcquires: 2, wantRefresh: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mock.NewMockProvider()
			m, clock := newTestManager(t, p)

			_, err := m.ValidToken(context.Background())
			require.NoError(t, err)

			clock.Advance(tt.advance)

			tok, err := m.ValidToken(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantToken, tok.AccessToken)
			assert.Equal(t, tt.wantAcquires, p.GetCallCount("ClientCredentialsToken"))
			assert.Equal(t, tt.wantRefresh, p.GetCallCount("RefreshToken"))
			assert.Greater(t, tok.Expiry.Sub(clock.Now()), security.DefaultExpiryMargin)
		})
	}
}

func TestValidToken_RefreshUsesStoredRefreshToken(t *testing.T) {
	p := mock.NewMockProvider()
	var got string
	p.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		got = refreshToken
		return mock.NewToken("a2", "r2", 300, 1800), nil
	}
	m, clock := newTestManager(t, p)

	_, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	clock.Advance(295 * time.Second)

	_, err = m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock-refresh-token", got)

	st, _ := m.State()
	assert.Equal(t, "r2", st.RefreshToken)
	assert.Equal(t, clock.Now().Add(1800*time.Second), st.RefreshExpiry)
}

func TestValidToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	p := mock.NewMockProvider()
	release := make(chan struct{})
	p.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		<-release
		return mock.NewToken("refreshed", "r2", 300, 1800), nil
	}
	m, clock := newTestManager(t, p)

	_, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	clock.Advance(295 * time.Second)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.ValidToken(context.Background())
			errs[i] = err
			if tok != nil {
				results[i] = tok.AccessToken
			}
		}(i)
	}

	require.Eventually(t, func() bool {
		return p.GetCallCount("RefreshToken") == 1
	}, time.Second, time.Millisecond)

	// Give the remaining callers time to pile up behind the in-flight refresh
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed", results[i])
	}
	assert.Equal(t, 1, p.GetCallCount("RefreshToken"))
	assert.Equal(t, 1, p.GetCallCount("ClientCredentialsToken"))
}

func TestValidToken_AcquireTimeout(t *testing.T) {
	p := mock.NewMockProvider()
	p.ClientCredentialsTokenFunc = func(ctx context.Context) (*oauth2.Token, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m, _ := newTestManager(t, p, func(c *Config) { c.RequestTimeout = 50 * time.Millisecond })

	_, err := m.ValidToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrAuth)
	assert.True(t, providers.IsNetworkError(err))

	_, ok := m.State()
	assert.False(t, ok, "state must stay empty after a failed acquisition")
}

func TestValidToken_FailedRefreshLeavesStateUnchanged(t *testing.T) {
	p := mock.NewMockProvider()
	p.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return nil, providers.NewAuthError("refresh", http.StatusBadRequest, errors.New("invalid_grant"))
	}
	m, clock := newTestManager(t, p)

	_, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	before, _ := m.State()

	clock.Advance(295 * time.Second)
	_, err = m.ValidToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrAuth)
	assert.False(t, providers.IsNetworkError(err))

	after, _ := m.State()
	assert.Equal(t, before, after)
	assert.Equal(t, 1, p.GetCallCount("ClientCredentialsToken"), "no fallback acquisition within the same call")
}

func TestValidToken_CallerCancellation(t *testing.T) {
	p := mock.NewMockProvider()
	release := make(chan struct{})
	p.ClientCredentialsTokenFunc = func(ctx context.Context) (*oauth2.Token, error) {
		<-release
		return mock.NewToken("late", "r", 300, 1800), nil
	}
	m, _ := newTestManager(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.ValidToken(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return p.GetCallCount("ClientCredentialsToken") == 1
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, providers.ErrAuth)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("ValidToken did not return after cancellation")
	}

	// The renewal still completes for everyone else
	close(release)
	require.Eventually(t, func() bool {
		st, ok := m.State()
		return ok && st.AccessToken == "late"
	}, time.Second, time.Millisecond)
}

func TestValidToken_RefreshWithoutLifetimeKeepsExpiry(t *testing.T) {
	p := mock.NewMockProvider()
	p.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		// Not rotated, no refresh_expires_in
		return mock.NewToken("a2", refreshToken, 300, -1), nil
	}
	m, clock := newTestManager(t, p)

	_, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	before, _ := m.State()

	clock.Advance(295 * time.Second)
	_, err = m.ValidToken(context.Background())
	require.NoError(t, err)

	after, _ := m.State()
	assert.Equal(t, "a2", after.AccessToken)
	assert.Equal(t, before.RefreshExpiry, after.RefreshExpiry)
}

func TestValidToken_NoRefreshTokenReacquires(t *testing.T) {
	p := mock.NewMockProvider()
	p.ClientCredentialsTokenFunc = func(ctx context.Context) (*oauth2.Token, error) {
		return mock.NewToken("a", "", 300, -1), nil
	}
	m, _ := newTestManager(t, p)

	tok, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)

	_, err = m.ValidToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, p.GetCallCount("ClientCredentialsToken"))
	assert.Equal(t, 0, p.GetCallCount("RefreshToken"))
}

func TestValidToken_EmptyAccessToken(t *testing.T) {
	p := mock.NewMockProvider()
	p.ClientCredentialsTokenFunc = func(ctx context.Context) (*oauth2.Token, error) {
		return &oauth2.Token{}, nil
	}
	m, _ := newTestManager(t, p)

	_, err := m.ValidToken(context.Background())
	assert.ErrorIs(t, err, providers.ErrAuth)
}

func TestManager_AcquireAndRefresh(t *testing.T) {
	p := mock.NewMockProvider()
	m, _ := newTestManager(t, p)

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, providers.ErrAuth, "refresh without state")

	tok, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock-access-token", tok.AccessToken)

	tok, err = m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-mock-access-token", tok.AccessToken)

	st, _ := m.State()
	assert.Equal(t, "new-mock-refresh-token", st.RefreshToken)
}

func TestManager_PlainProviderErrorBecomesAuthError(t *testing.T) {
	p := mock.NewMockProvider()
	p.ClientCredentialsTokenFunc = func(ctx context.Context) (*oauth2.Token, error) {
		return nil, errors.New("boom")
	}
	m, _ := newTestManager(t, p)

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, providers.ErrAuth)
	assert.False(t, providers.IsNetworkError(err))
}

func TestManager_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, SpanExporter: exporter})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	p := mock.NewMockProvider()
	m, clock := newTestManager(t, p, func(c *Config) { c.Instrumentation = inst })

	_, err = m.ValidToken(context.Background())
	require.NoError(t, err)
	clock.Advance(295 * time.Second)
	_, err = m.ValidToken(context.Background())
	require.NoError(t, err)

	require.NoError(t, inst.ForceFlush(context.Background()))

	var names []string
	for _, span := range exporter.GetSpans() {
		names = append(names, span.Name)
	}
	assert.Equal(t, []string{"token.acquire", "token.refresh"}, names)
}
