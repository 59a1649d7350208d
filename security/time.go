package security

import "time"

// DefaultExpiryMargin is the safety margin subtracted from a token's expiry
// before it is considered usable. It covers the round trip of the call the
// token is about to authorize.
const DefaultExpiryMargin = 10 * time.Second

// ExpiresWithin reports whether expiresAt is no more than margin after now.
// A zero expiresAt is always considered expired.
func ExpiresWithin(expiresAt, now time.Time, margin time.Duration) bool {
	if expiresAt.IsZero() {
		return true
	}
	return expiresAt.Sub(now) <= margin
}

// RemainingLifetime returns how long until expiresAt, clamped at zero.
func RemainingLifetime(expiresAt, now time.Time) time.Duration {
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
