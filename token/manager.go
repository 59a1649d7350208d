package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/idp-lookup/instrumentation"
	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/security"
)

const (
	// DefaultRequestTimeout bounds a single grant
	DefaultRequestTimeout = 10 * time.Second

	renewKey = "renew"
)

// Config configures a Manager.
type Config struct {
	// ClientID is only used to label logs and audit events
	ClientID string

	// ExpiryMargin is how close to expiry a token is treated as expired (default: 10s)
	ExpiryMargin time.Duration

	// RequestTimeout bounds each grant (default: 10s)
	RequestTimeout time.Duration

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time

	// Logger is used for token lifecycle events (nil uses slog.Default)
	Logger *slog.Logger

	// Auditor records grants (optional)
	Auditor *security.Auditor

	// Instrumentation records grant metrics and spans (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Manager keeps an access token for a provider fresh.
//
// The current State is read under a read lock and replaced wholesale after a
// successful grant. Renewals triggered by ValidToken are coalesced so that
// concurrent callers observing the same expired state share one grant, and
// every grant (including direct Acquire and Refresh calls) is serialized.
type Manager struct {
	provider providers.Provider

	clientID string
	margin   time.Duration
	timeout  time.Duration
	now      func() time.Time

	logger  *slog.Logger
	auditor *security.Auditor
	tracer  trace.Tracer
	metrics *instrumentation.Metrics

	mu    sync.RWMutex
	state *State

	grantMu sync.Mutex
	renewal singleflight.Group
}

// NewManager creates a token manager for provider. No grant is performed
// until the first call that needs a token.
func NewManager(provider providers.Provider, cfg Config) *Manager {
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = security.DefaultExpiryMargin
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		provider: provider,
		clientID: cfg.ClientID,
		margin:   cfg.ExpiryMargin,
		timeout:  cfg.RequestTimeout,
		now:      cfg.Clock,
		logger:   cfg.Logger.With("component", "token", "provider", provider.Name()),
		auditor:  cfg.Auditor,
	}

	if cfg.Instrumentation != nil {
		m.tracer = cfg.Instrumentation.Tracer("token")
		m.metrics = cfg.Instrumentation.Metrics()
	}

	return m
}

// State returns a copy of the current token state and whether any grant has
// succeeded yet.
func (m *Manager) State() (State, bool) {
	st := m.current()
	if st == nil {
		return State{}, false
	}
	return *st, true
}

func (m *Manager) current() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) replace(st *State) {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
}

// ValidToken returns an access token that stays valid for longer than the
// expiry margin, acquiring or refreshing first when needed.
//
// A failed grant returns an AuthError and leaves the state untouched; there
// is no fallback to another grant within the same call. If ctx is done while
// waiting for a renewal, ValidToken returns early while the renewal itself
// completes for the other waiters.
func (m *Manager) ValidToken(ctx context.Context) (*oauth2.Token, error) {
	st := m.current()
	action := Decide(st, m.now(), m.margin)
	if action == ActionNone {
		return st.Token(), nil
	}

	// The renewal outlives the caller that started it, bounded by the request timeout.
	renewCtx := context.WithoutCancel(ctx)
	ch := m.renewal.DoChan(renewKey, func() (any, error) {
		return m.renew(renewCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*State).Token(), nil
	case <-ctx.Done():
		return nil, providers.NewAuthError("valid_token", 0, fmt.Errorf("waiting for token renewal: %w", ctx.Err()))
	}
}

// renew re-evaluates the state under the grant lock and performs the grant it
// calls for, if any.
func (m *Manager) renew(ctx context.Context) (*State, error) {
	m.grantMu.Lock()
	defer m.grantMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	st := m.current()
	switch Decide(st, m.now(), m.margin) {
	case ActionAcquire:
		if st != nil {
			m.logger.Debug("Refresh token expired, re-acquiring", "refresh_expiry", st.RefreshExpiry)
		}
		return m.acquire(ctx)
	case ActionRefresh:
		m.logger.Debug("Access token expired, refreshing", "access_expiry", st.AccessExpiry)
		return m.refresh(ctx, st)
	default:
		return st, nil
	}
}

// Acquire performs a client-credentials grant and replaces the state.
func (m *Manager) Acquire(ctx context.Context) (*oauth2.Token, error) {
	m.grantMu.Lock()
	defer m.grantMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	st, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return st.Token(), nil
}

// Refresh performs a refresh-token grant with the stored refresh token and
// replaces the state. It fails with an AuthError when no refresh token is held.
func (m *Manager) Refresh(ctx context.Context) (*oauth2.Token, error) {
	m.grantMu.Lock()
	defer m.grantMu.Unlock()

	st := m.current()
	if st == nil || st.RefreshToken == "" {
		return nil, &providers.Error{Kind: providers.KindAuth, Op: "refresh", Err: errors.New("no refresh token held")}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	st, err := m.refresh(ctx, st)
	if err != nil {
		return nil, err
	}
	return st.Token(), nil
}

// acquire runs a client-credentials grant. Caller holds grantMu.
func (m *Manager) acquire(ctx context.Context) (*State, error) {
	ctx, span := m.startSpan(ctx, "token.acquire", instrumentation.GrantTypeClientCredentials)
	start := time.Now()

	tok, err := m.provider.ClientCredentialsToken(ctx)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = errors.New("grant response has no access token")
	}
	if err != nil {
		err = asAuthError("client_credentials", err)
		m.grantFailed(ctx, span, instrumentation.GrantTypeClientCredentials, start, err)
		return nil, err
	}

	st := newState(tok, m.now(), nil)
	m.replace(st)

	expiresIn, refreshExpiresIn := st.lifetimes()
	m.logger.Info("Token acquired", "expires_in", expiresIn, "refresh_expires_in", refreshExpiresIn)
	m.auditor.LogTokenIssued(m.clientID, expiresIn, refreshExpiresIn)
	m.grantSucceeded(ctx, span, instrumentation.GrantTypeClientCredentials, start, st, security.EventTokenIssued)

	return st, nil
}

// refresh runs a refresh-token grant with prev's refresh token. Caller holds grantMu.
func (m *Manager) refresh(ctx context.Context, prev *State) (*State, error) {
	ctx, span := m.startSpan(ctx, "token.refresh", instrumentation.GrantTypeRefreshToken)
	start := time.Now()

	tok, err := m.provider.RefreshToken(ctx, prev.RefreshToken)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = errors.New("grant response has no access token")
	}
	if err != nil {
		err = asAuthError("refresh", err)
		m.grantFailed(ctx, span, instrumentation.GrantTypeRefreshToken, start, err)
		return nil, err
	}

	st := newState(tok, m.now(), prev)
	m.replace(st)

	rotated := st.RefreshToken != prev.RefreshToken
	expiresIn, refreshExpiresIn := st.lifetimes()
	m.logger.Info("Token refreshed", "expires_in", expiresIn, "refresh_expires_in", refreshExpiresIn, "rotated", rotated)
	m.auditor.LogTokenRefreshed(m.clientID, expiresIn, refreshExpiresIn, rotated)
	m.grantSucceeded(ctx, span, instrumentation.GrantTypeRefreshToken, start, st, security.EventTokenRefreshed)

	return st, nil
}

func (m *Manager) startSpan(ctx context.Context, name, grantType string) (context.Context, trace.Span) {
	if m.tracer == nil {
		return ctx, nil
	}
	ctx, span := m.tracer.Start(ctx, name)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, grantType),
		attribute.String(instrumentation.AttrClientID, m.clientID),
	)
	return ctx, span
}

func (m *Manager) grantSucceeded(ctx context.Context, span trace.Span, grantType string, start time.Time, st *State, auditEvent string) {
	if span != nil {
		expiresIn, refreshExpiresIn := st.lifetimes()
		instrumentation.SetSpanAttributes(span,
			attribute.Int64(instrumentation.AttrExpiresIn, int64(expiresIn.Seconds())),
			attribute.Int64(instrumentation.AttrRefreshExpiresIn, int64(refreshExpiresIn.Seconds())),
		)
		instrumentation.SetSpanSuccess(span)
		span.End()
	}
	if m.metrics != nil {
		m.metrics.RecordTokenGrant(ctx, grantType, elapsedMs(start), nil)
		if m.auditor.Enabled() {
			m.metrics.RecordAuditEvent(ctx, auditEvent)
		}
	}
}

func (m *Manager) grantFailed(ctx context.Context, span trace.Span, grantType string, start time.Time, err error) {
	m.logger.Warn("Token grant failed", "grant_type", grantType, "error", err)
	m.auditor.LogTokenGrantFailed(m.clientID, grantType, err.Error())

	if span != nil {
		instrumentation.RecordError(span, err)
		span.End()
	}
	if m.metrics != nil {
		m.metrics.RecordTokenGrant(ctx, grantType, elapsedMs(start), err)
		if m.auditor.Enabled() {
			m.metrics.RecordAuditEvent(ctx, security.EventTokenGrantFailed)
		}
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// asAuthError returns err as an AuthError, keeping provider classification.
func asAuthError(op string, err error) error {
	var perr *providers.Error
	if errors.As(err, &perr) && perr.Kind == providers.KindAuth {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return providers.NewAuthError(op, 0, err)
	}
	return &providers.Error{Kind: providers.KindAuth, Op: op, Err: err}
}
