package lookup

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/idp-lookup/instrumentation"
	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/security"
)

// TokenSource supplies valid access tokens, typically a *token.Manager.
type TokenSource interface {
	ValidToken(ctx context.Context) (*oauth2.Token, error)
}

// Config configures a Service.
type Config struct {
	// Logger is used for lookup events (nil uses slog.Default)
	Logger *slog.Logger

	// Instrumentation records lookup metrics and spans (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Service looks up single users at an identity provider.
// It is safe for concurrent use.
type Service struct {
	tokens   TokenSource
	provider providers.Provider
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *instrumentation.Metrics
}

// NewService creates a lookup service searching provider with tokens from tokens.
func NewService(tokens TokenSource, provider providers.Provider, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		tokens:   tokens,
		provider: provider,
		logger:   logger.With("component", "lookup"),
	}
	if cfg.Instrumentation != nil {
		s.tracer = cfg.Instrumentation.Tracer("lookup")
		s.metrics = cfg.Instrumentation.Metrics()
	}
	return s
}

// Lookup returns the first user record whose attribute exactly equals the
// query value. No match is an empty Result, not an error.
//
// Errors are an AuthError from obtaining the token (returned unchanged), an
// UpstreamError from the search, or a ParseError for an unreadable response.
func (s *Service) Lookup(ctx context.Context, q Query) (Result, error) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "lookup.user")
		defer span.End()
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrLookupAttribute, q.Attribute))
	}

	tok, err := s.tokens.ValidToken(ctx)
	if err != nil {
		instrumentation.RecordError(span, err)
		return Result{}, err
	}

	body, err := s.provider.SearchUsers(ctx, tok, q.Params())
	if err != nil {
		if providers.KindOf(err) == 0 {
			err = providers.NewUpstreamError("search_users", 0, err)
		}
		instrumentation.RecordError(span, err)
		return Result{}, fmt.Errorf("user search failed: %w", err)
	}

	result, err := MatchFirst(body, q)
	if err != nil {
		instrumentation.RecordError(span, err)
		return Result{}, err
	}

	s.logger.Info("Looked up user",
		"attribute", q.Attribute,
		"value_hash", security.HashForLogging(q.Value),
		"results", result.Candidates,
		"matched", result.Found())
	if result.Found() {
		s.logger.Debug("Found exact match")
	} else {
		s.logger.Debug("No results match")
	}

	instrumentation.SetSpanAttributes(span,
		attribute.Int(instrumentation.AttrLookupResults, result.Candidates),
		attribute.Bool(instrumentation.AttrLookupMatched, result.Found()),
	)
	instrumentation.SetSpanSuccess(span)

	if s.metrics != nil {
		s.metrics.RecordLookup(ctx, q.Attribute, result.Candidates, result.Found())
	}

	return result, nil
}
