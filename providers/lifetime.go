package providers

import (
	"encoding/json"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

const (
	// FieldExpiresIn is the token response field holding the access token lifetime in seconds
	FieldExpiresIn = "expires_in"

	// FieldRefreshExpiresIn is the Keycloak token response field holding the refresh token lifetime in seconds
	FieldRefreshExpiresIn = "refresh_expires_in"
)

// AccessLifetime returns the provider-reported access token lifetime.
// It prefers the raw expires_in field, then Token.ExpiresIn, then the distance
// from now to Token.Expiry. Returns zero when none is known.
func AccessLifetime(tok *oauth2.Token, now time.Time) time.Duration {
	if tok == nil {
		return 0
	}
	if secs, ok := extraSeconds(tok, FieldExpiresIn); ok {
		return time.Duration(secs) * time.Second
	}
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if !tok.Expiry.IsZero() && tok.Expiry.After(now) {
		return tok.Expiry.Sub(now)
	}
	return 0
}

// RefreshLifetime returns the provider-reported refresh token lifetime and
// whether the response carried one.
func RefreshLifetime(tok *oauth2.Token) (time.Duration, bool) {
	if tok == nil {
		return 0, false
	}
	secs, ok := extraSeconds(tok, FieldRefreshExpiresIn)
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// extraSeconds reads a numeric extra field. JSON token responses decode numbers
// as float64, form-encoded ones as int64 or string.
func extraSeconds(tok *oauth2.Token, key string) (int64, bool) {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
