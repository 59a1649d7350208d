package keycloak

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/providers/oidc"
)

// DefaultCredentialsFile is the credentials file read when no path is given.
const DefaultCredentialsFile = "client-credentials.json"

// Credentials is the Keycloak client adapter configuration as exported from
// the admin console ("Installation" tab, Keycloak OIDC JSON).
type Credentials struct {
	// Realm is the realm the client belongs to
	Realm string `json:"realm"`

	// AuthServerURL is the Keycloak base URL (e.g., https://sso.example.com/auth)
	AuthServerURL string `json:"auth-server-url"`

	// Resource is the client ID
	Resource string `json:"resource"`

	Credentials struct {
		Secret string `json:"secret"`
	} `json:"credentials"`
}

// ClientID returns the client identifier.
func (c *Credentials) ClientID() string {
	return c.Resource
}

// ClientSecret returns the client secret.
func (c *Credentials) ClientSecret() string {
	return c.Credentials.Secret
}

// Validate checks that every field needed to authenticate is present.
func (c *Credentials) Validate() error {
	var missing []error
	if c.Realm == "" {
		missing = append(missing, errors.New("realm is required"))
	} else if err := oidc.ValidateRealm(c.Realm); err != nil {
		missing = append(missing, err)
	}
	if c.AuthServerURL == "" {
		missing = append(missing, errors.New("auth-server-url is required"))
	}
	if c.Resource == "" {
		missing = append(missing, errors.New("resource (client ID) is required"))
	}
	if c.Credentials.Secret == "" {
		missing = append(missing, errors.New("credentials.secret is required"))
	}
	return errors.Join(missing...)
}

// LoadCredentials reads and validates a credentials file.
// Any failure is a ConfigError.
func LoadCredentials(path string) (*Credentials, error) {
	if path == "" {
		path = DefaultCredentialsFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, providers.NewConfigError("load_credentials", fmt.Errorf("failed to read credentials file: %w", err))
	}

	return ParseCredentials(data)
}

// ParseCredentials decodes and validates credentials JSON.
func ParseCredentials(data []byte) (*Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, providers.NewConfigError("load_credentials", fmt.Errorf("malformed credentials file: %w", err))
	}

	if err := creds.Validate(); err != nil {
		return nil, providers.NewConfigError("load_credentials", fmt.Errorf("invalid credentials: %w", err))
	}

	return &creds, nil
}
