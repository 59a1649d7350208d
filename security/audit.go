package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	ClientID  string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// Enabled reports whether events are written.
func (a *Auditor) Enabled() bool {
	return a != nil && a.enabled
}

// LogEvent writes a security event. Nil-safe.
func (a *Auditor) LogEvent(event Event) {
	if !a.Enabled() {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a successful client-credentials grant
func (a *Auditor) LogTokenIssued(clientID string, expiresIn, refreshExpiresIn time.Duration) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		ClientID: clientID,
		Details: map[string]any{
			"expires_in":         int64(expiresIn.Seconds()),
			"refresh_expires_in": int64(refreshExpiresIn.Seconds()),
		},
	})
}

// LogTokenRefreshed logs a successful refresh-token grant
func (a *Auditor) LogTokenRefreshed(clientID string, expiresIn, refreshExpiresIn time.Duration, rotated bool) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		ClientID: clientID,
		Details: map[string]any{
			"expires_in":         int64(expiresIn.Seconds()),
			"refresh_expires_in": int64(refreshExpiresIn.Seconds()),
			"rotated":            rotated,
		},
	})
}

// LogTokenGrantFailed logs a failed grant
func (a *Auditor) LogTokenGrantFailed(clientID, grantType, reason string) {
	a.LogEvent(Event{
		Type:     EventTokenGrantFailed,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// LogUserLookup logs a lookup. The searched value is hashed.
func (a *Auditor) LogUserLookup(requestID, ipAddress, attribute, value string, results int, matched bool) {
	a.LogEvent(Event{
		Type:      EventUserLookup,
		IPAddress: ipAddress,
		RequestID: requestID,
		Details: map[string]any{
			"attribute":  attribute,
			"value_hash": HashForLogging(value),
			"results":    results,
			"matched":    matched,
		},
	})
}

// LogInvalidQuery logs a lookup rejected before reaching the provider
func (a *Auditor) LogInvalidQuery(requestID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventInvalidQuery,
		IPAddress: ipAddress,
		RequestID: requestID,
		Details:   map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(requestID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		RequestID: requestID,
	})
}

// HashForLogging returns a short SHA-256 digest for correlating sensitive
// values in logs without revealing them. Empty input yields "".
func HashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
