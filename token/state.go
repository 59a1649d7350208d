package token

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/idp-lookup/providers"
	"github.com/giantswarm/idp-lookup/security"
)

// State is one generation of tokens. It is never modified after creation;
// the manager replaces it as a whole on every successful grant.
type State struct {
	AccessToken   string
	TokenType     string
	AccessExpiry  time.Time
	RefreshToken  string
	RefreshExpiry time.Time
	IssuedAt      time.Time
}

// Action is the renewal step required to produce a usable access token.
type Action int

const (
	// ActionNone means the current access token is usable as is
	ActionNone Action = iota
	// ActionAcquire means a client-credentials grant is required
	ActionAcquire
	// ActionRefresh means a refresh-token grant is required
	ActionRefresh
)

// String returns the action name used in logs and span attributes.
func (a Action) String() string {
	switch a {
	case ActionAcquire:
		return "acquire"
	case ActionRefresh:
		return "refresh"
	default:
		return "none"
	}
}

// Decide returns the action needed for state at now.
// The refresh token is checked first: once it is within margin of expiry a
// refresh is pointless and the session restarts with a new acquisition.
// A state without a refresh token is therefore re-acquired on every call.
func Decide(state *State, now time.Time, margin time.Duration) Action {
	switch {
	case state == nil:
		return ActionAcquire
	case state.RefreshToken == "" || security.ExpiresWithin(state.RefreshExpiry, now, margin):
		return ActionAcquire
	case security.ExpiresWithin(state.AccessExpiry, now, margin):
		return ActionRefresh
	default:
		return ActionNone
	}
}

// Token returns the access token as an oauth2.Token for attaching to
// outbound requests. The refresh token is not exposed.
func (s *State) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: s.AccessToken,
		TokenType:   s.TokenType,
		Expiry:      s.AccessExpiry,
	}
}

// newState builds the state for a grant response received at issued.
// Without refresh_expires_in the previous refresh expiry is kept when the
// refresh token did not change; otherwise the refresh token counts as expired.
func newState(tok *oauth2.Token, issued time.Time, prev *State) *State {
	st := &State{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		AccessExpiry: issued.Add(providers.AccessLifetime(tok, issued)),
		RefreshToken: tok.RefreshToken,
		IssuedAt:     issued,
	}

	if d, ok := providers.RefreshLifetime(tok); ok {
		st.RefreshExpiry = issued.Add(d)
	} else if prev != nil && tok.RefreshToken != "" && tok.RefreshToken == prev.RefreshToken {
		st.RefreshExpiry = prev.RefreshExpiry
	} else {
		st.RefreshExpiry = issued
	}

	return st
}

// lifetimes returns the access and refresh lifetimes granted at IssuedAt.
func (s *State) lifetimes() (time.Duration, time.Duration) {
	return s.AccessExpiry.Sub(s.IssuedAt), s.RefreshExpiry.Sub(s.IssuedAt)
}
