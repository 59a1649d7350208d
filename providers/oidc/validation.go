package oidc

import (
	"fmt"
	"net/url"
	"regexp"
)

// realmPattern restricts realm names to the characters Keycloak generates.
var realmPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateIssuerURL validates an issuer or authorization server base URL.
// The URL must be absolute with a host; when requireHTTPS is set the scheme
// must be https, otherwise http is accepted too.
//
// Example:
//
//	if err := ValidateIssuerURL("https://sso.example.com/realms/master", true); err != nil {
//	    return fmt.Errorf("invalid issuer: %w", err)
//	}
func ValidateIssuerURL(issuerURL string, requireHTTPS bool) error {
	return validateEndpointURL(issuerURL, requireHTTPS)
}

func validateEndpointURL(raw string, requireHTTPS bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if requireHTTPS {
			return fmt.Errorf("URL must use HTTPS, got %s", u.Scheme)
		}
	default:
		return fmt.Errorf("URL must use http or https, got %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	return nil
}

// ValidateRealm validates a realm name before it is placed into URL paths.
func ValidateRealm(realm string) error {
	if realm == "" {
		return fmt.Errorf("realm is required")
	}
	if len(realm) > 255 {
		return fmt.Errorf("realm exceeds maximum length of 255 characters")
	}
	if !realmPattern.MatchString(realm) {
		return fmt.Errorf("realm contains invalid characters (allowed: a-z, A-Z, 0-9, '.', '_', '-')")
	}
	return nil
}
