// Package security provides the protective plumbing around the lookup
// endpoint: per-client rate limiting, request IDs, response security headers,
// client IP extraction, token expiry checks and audit logging.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket (golang.org/x/time/rate) per client
// identifier. Buckets are held in an LRU list bounded by MaxEntries and idle
// buckets are swept periodically, so a spray of distinct addresses cannot grow
// memory without bound.
//
//	limiter := security.NewRateLimiter(security.RateLimitConfig{Rate: 10, Burst: 20}, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
//	    return
//	}
//
// # Audit Logging
//
// Auditor writes security-relevant events (token grants, lookups, rate limit
// violations) through slog. Values that may identify a person, such as the
// searched value of a lookup, are hashed before they are logged.
package security
