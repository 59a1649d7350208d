package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Fake Keycloak defaults
const (
	FakeRealm        = "test-realm"
	FakeClientID     = "idp-lookup"
	FakeClientSecret = "s3cr3t"
)

// FakeKeycloak is an httptest server speaking the subset of the Keycloak API
// the provider uses: realm discovery, the token endpoint (client_credentials
// and refresh_token grants with HTTP basic client authentication) and the
// admin users search.
//
// Search emulates Keycloak's fuzzy matching: a user matches when the queried
// attribute contains the value case-insensitively, or equals it when
// exact=true is sent.
type FakeKeycloak struct {
	Server *httptest.Server

	mu sync.Mutex

	// ExpiresIn and RefreshExpiresIn are the lifetimes in seconds issued with each grant
	ExpiresIn        int
	RefreshExpiresIn int

	// OmitRefreshToken leaves refresh_token and refresh_expires_in out of grant responses
	OmitRefreshToken bool

	// TokenStatus, when non-zero, makes the token endpoint fail with this status
	TokenStatus int

	// TokenDelay delays every token response
	TokenDelay time.Duration

	// Users is the user directory searched by the admin endpoint
	Users []map[string]any

	// SearchStatus and SearchBody, when set, replace the search response
	SearchStatus int
	SearchBody   string

	// DiscoveryStatus, when non-zero, makes discovery fail with this status
	DiscoveryStatus int

	accessTokens  map[string]bool
	refreshTokens map[string]bool
	lastQuery     string
	issued        int

	clientCredentialsGrants atomic.Int64
	refreshGrants           atomic.Int64
	searches                atomic.Int64
}

// NewFakeKeycloak starts a fake Keycloak server. It is closed on test cleanup.
func NewFakeKeycloak(t interface {
	Helper()
	Cleanup(func())
}) *FakeKeycloak {
	t.Helper()

	fk := &FakeKeycloak{
		ExpiresIn:        300,
		RefreshExpiresIn: 1800,
		accessTokens:     make(map[string]bool),
		refreshTokens:    make(map[string]bool),
	}

	mux := http.NewServeMux()
	realmPath := "/realms/" + FakeRealm
	mux.HandleFunc(realmPath+"/.well-known/openid-configuration", fk.handleDiscovery)
	mux.HandleFunc(realmPath+"/protocol/openid-connect/token", fk.handleToken)
	mux.HandleFunc("/admin"+realmPath+"/users/", fk.handleSearch)

	fk.Server = httptest.NewServer(mux)
	t.Cleanup(fk.Server.Close)

	return fk
}

// URL returns the auth server base URL.
func (fk *FakeKeycloak) URL() string {
	return fk.Server.URL
}

// CredentialsJSON returns a credentials file body pointing at the server.
func (fk *FakeKeycloak) CredentialsJSON() []byte {
	return []byte(fmt.Sprintf(`{
  "realm": %q,
  "auth-server-url": %q,
  "ssl-required": "external",
  "resource": %q,
  "credentials": {"secret": %q},
  "confidential-port": 0
}`, FakeRealm, fk.URL()+"/", FakeClientID, FakeClientSecret))
}

// Configure runs fn with the server state locked.
func (fk *FakeKeycloak) Configure(fn func(fk *FakeKeycloak)) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fn(fk)
}

// ClientCredentialsGrants returns the number of client_credentials grant requests received.
func (fk *FakeKeycloak) ClientCredentialsGrants() int64 {
	return fk.clientCredentialsGrants.Load()
}

// RefreshGrants returns the number of refresh_token grant requests received.
func (fk *FakeKeycloak) RefreshGrants() int64 {
	return fk.refreshGrants.Load()
}

// Searches returns the number of user search requests received.
func (fk *FakeKeycloak) Searches() int64 {
	return fk.searches.Load()
}

// LastQuery returns the raw query string of the last user search.
func (fk *FakeKeycloak) LastQuery() string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.lastQuery
}

func (fk *FakeKeycloak) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	fk.mu.Lock()
	status := fk.DiscoveryStatus
	fk.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	issuer := fk.URL() + "/realms/" + FakeRealm
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "/protocol/openid-connect/auth",
		"token_endpoint":         issuer + "/protocol/openid-connect/token",
		"userinfo_endpoint":      issuer + "/protocol/openid-connect/userinfo",
		"jwks_uri":               issuer + "/protocol/openid-connect/certs",
		"grant_types_supported":  []string{"authorization_code", "client_credentials", "refresh_token"},
	})
}

func (fk *FakeKeycloak) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	grantType := r.PostForm.Get("grant_type")
	switch grantType {
	case "client_credentials":
		fk.clientCredentialsGrants.Add(1)
	case "refresh_token":
		fk.refreshGrants.Add(1)
	}

	fk.mu.Lock()
	delay := fk.TokenDelay
	fk.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	fk.mu.Lock()
	defer fk.mu.Unlock()

	if fk.TokenStatus != 0 {
		writeJSON(w, fk.TokenStatus, map[string]string{"error": "unauthorized_client"})
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok || id != FakeClientID || secret != FakeClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch grantType {
	case "client_credentials":
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !fk.refreshTokens[rt] {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid refresh token",
			})
			return
		}
		delete(fk.refreshTokens, rt)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	fk.issued++
	access := fmt.Sprintf("access-%d", fk.issued)
	fk.accessTokens[access] = true

	resp := map[string]any{
		"access_token":      access,
		"expires_in":        fk.ExpiresIn,
		"token_type":        "Bearer",
		"not-before-policy": 0,
		"scope":             "profile email",
		"session_state":     "fake-session",
	}
	if !fk.OmitRefreshToken {
		refresh := fmt.Sprintf("refresh-%d", fk.issued)
		fk.refreshTokens[refresh] = true
		resp["refresh_token"] = refresh
		resp["refresh_expires_in"] = fk.RefreshExpiresIn
	}

	writeJSON(w, http.StatusOK, resp)
}

func (fk *FakeKeycloak) handleSearch(w http.ResponseWriter, r *http.Request) {
	fk.searches.Add(1)

	fk.mu.Lock()
	defer fk.mu.Unlock()

	fk.lastQuery = r.URL.RawQuery

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !fk.accessTokens[bearer] {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
		return
	}

	if fk.SearchStatus != 0 || fk.SearchBody != "" {
		status := fk.SearchStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(fk.SearchBody))
		return
	}

	query := r.URL.Query()
	exact := query.Get("exact") == "true"

	results := make([]map[string]any, 0)
	for _, user := range fk.Users {
		if userMatches(user, query, exact) {
			results = append(results, user)
		}
	}

	writeJSON(w, http.StatusOK, results)
}

func userMatches(user map[string]any, query map[string][]string, exact bool) bool {
	for key, values := range query {
		switch key {
		case "exact", "first", "max", "briefRepresentation":
			continue
		}
		got, _ := user[key].(string)
		for _, want := range values {
			if exact && got != want {
				return false
			}
			if !exact && !strings.Contains(strings.ToLower(got), strings.ToLower(want)) {
				return false
			}
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
