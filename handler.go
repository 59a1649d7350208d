package idplookup

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/idp-lookup/instrumentation"
	"github.com/giantswarm/idp-lookup/lookup"
	"github.com/giantswarm/idp-lookup/security"
)

// Endpoint paths
const (
	PathLookup  = "/"
	PathHealthz = "/healthz"
	PathReadyz  = "/readyz"
)

const (
	endpointLookup  = "lookup"
	endpointHealthz = "healthz"
	endpointReadyz  = "readyz"
	endpointUnknown = "unknown"

	contentTypeJSON = "application/json"
	retryAfter      = "60"
)

// Handler serves the lookup endpoint over HTTP
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger.With("component", "http"),
	}

	// Initialize tracer if instrumentation is enabled
	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}

	return h
}

// Routes returns the router: GET / performs a lookup, /healthz and /readyz
// report liveness and provider reachability. Every response carries an
// X-Request-ID.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.serveNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.serveMethodNotAllowed)

	r.Handle(PathLookup, h.instrument(endpointLookup, "lookup.http", h.ServeLookup)).Methods(http.MethodGet)
	r.Handle(PathHealthz, h.instrument(endpointHealthz, "", h.ServeHealthz)).Methods(http.MethodGet)
	r.Handle(PathReadyz, h.instrument(endpointReadyz, "", h.ServeReadyz)).Methods(http.MethodGet)

	return security.RequestIDMiddleware(r)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// instrument records request metrics for endpoint and, when spanName is set
// and tracing is enabled, wraps the request in a span.
func (h *Handler) instrument(endpoint, spanName string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		var span trace.Span
		if h.tracer != nil && spanName != "" {
			var ctx context.Context
			ctx, span = h.tracer.Start(r.Context(), spanName)
			defer span.End()
			instrumentation.SetSpanAttributes(span,
				attribute.String(instrumentation.AttrRequestID, security.GetRequestID(ctx)))
			r = r.WithContext(ctx)
		}

		next(rec, r)

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
		h.recordHTTPMetrics(r.Context(), endpoint, r.Method, rec.status, startTime)
	})
}

// ServeLookup handles GET /?<attribute>=<value>. The first query pair is the
// search; it must name a searchable attribute. The response is the first
// user record whose attribute equals the value exactly, or {} when none does.
func (h *Handler) ServeLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := security.GetRequestID(ctx)
	cfg := h.server.Config
	clientIP := security.GetClientIP(r, cfg.RateLimit.TrustProxy, cfg.RateLimit.TrustedProxyCount)

	if h.checkIPRateLimit(w, r, clientIP) {
		return
	}

	q, err := lookup.ParseQuery(r.URL.RawQuery, cfg.Lookup.SearchableAttributes)
	if err != nil {
		h.logger.Debug("Rejected lookup query", "request_id", requestID, "ip", clientIP, "error", err)
		h.server.Auditor.LogInvalidQuery(requestID, clientIP, err.Error())
		h.recordAuditEvent(ctx, security.EventInvalidQuery)
		h.writeAPIError(w, ErrorFromLookup(err))
		return
	}

	result, err := h.server.Lookup.Lookup(ctx, q)
	if err != nil {
		apiErr := ErrorFromLookup(err)
		h.logger.Error("Lookup failed",
			"request_id", requestID,
			"attribute", q.Attribute,
			"status", apiErr.Status,
			"error", err)
		h.writeAPIError(w, apiErr)
		return
	}

	h.server.Auditor.LogUserLookup(requestID, clientIP, q.Attribute, q.Value, result.Candidates, result.Found())
	h.recordAuditEvent(ctx, security.EventUserLookup)

	body, err := result.MarshalJSON()
	if err != nil {
		h.logger.Error("Failed to encode lookup result", "request_id", requestID, "error", err)
		h.writeAPIError(w, ErrServerError("failed to encode result"))
		return
	}

	security.SetSecurityHeaders(w)
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ServeHealthz reports that the process is running.
func (h *Handler) ServeHealthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeReadyz reports whether the identity provider answers discovery.
func (h *Handler) ServeReadyz(w http.ResponseWriter, r *http.Request) {
	if err := h.server.Ready(r.Context()); err != nil {
		h.logger.Warn("Identity provider not ready", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	h.recordHTTPMetrics(r.Context(), endpointUnknown, r.Method, http.StatusNotFound, time.Now())
	h.writeError(w, ErrorCodeNotFound, "no such endpoint", http.StatusNotFound)
}

func (h *Handler) serveMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.recordHTTPMetrics(r.Context(), endpointUnknown, r.Method, http.StatusMethodNotAllowed, time.Now())
	w.Header().Set("Allow", http.MethodGet)
	h.writeError(w, ErrorCodeMethodNotAllowed, "only GET is supported", http.StatusMethodNotAllowed)
}

// checkIPRateLimit checks if the IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	ctx := r.Context()
	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(security.GetRequestID(ctx), clientIP)
	h.recordAuditEvent(ctx, security.EventRateLimitExceeded)

	w.Header().Set("Retry-After", retryAfter)
	h.writeAPIError(w, ErrRateLimitExceeded("Rate limit exceeded. Please try again later."))
	return true
}

func (h *Handler) recordAuditEvent(ctx context.Context, eventType string) {
	if h.server.Instrumentation != nil && h.server.Auditor.Enabled() {
		h.server.Instrumentation.Metrics().RecordAuditEvent(ctx, eventType)
	}
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

func (h *Handler) writeAPIError(w http.ResponseWriter, err *APIError) {
	h.writeError(w, err.Code, err.Description, err.Status)
}

// writeError writes a JSON error body: {"error": code, "error_description": description}
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	h.writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w)
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
