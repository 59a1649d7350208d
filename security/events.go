package security

// Event type constants for security audit logging.
const (
	// EventTokenIssued is logged when a client-credentials grant produced a new token pair
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh-token grant produced a new token pair
	EventTokenRefreshed = "token_refreshed"

	// EventTokenGrantFailed is logged when the token endpoint rejected a grant or was unreachable
	EventTokenGrantFailed = "token_grant_failed" //nolint:gosec // event type name

	// EventUserLookup is logged for every lookup that reached the provider
	EventUserLookup = "user_lookup"

	// EventInvalidQuery is logged when a lookup is rejected before reaching the provider
	EventInvalidQuery = "invalid_query"

	// EventRateLimitExceeded is logged when a client exceeds the rate limit
	EventRateLimitExceeded = "rate_limit_exceeded"
)
