package providers

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestAccessLifetime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tok  *oauth2.Token
		want time.Duration
	}{
		{name: "nil token", tok: nil, want: 0},
		{
			name: "JSON expires_in",
			tok:  (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]any{"expires_in": float64(300)}),
			want: 300 * time.Second,
		},
		{
			name: "form expires_in",
			tok:  (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]any{"expires_in": "60"}),
			want: time.Minute,
		},
		{
			name: "ExpiresIn field",
			tok:  &oauth2.Token{AccessToken: "a", ExpiresIn: 120},
			want: 2 * time.Minute,
		},
		{
			name: "Expiry only",
			tok:  &oauth2.Token{AccessToken: "a", Expiry: now.Add(90 * time.Second)},
			want: 90 * time.Second,
		},
		{
			name: "nothing known",
			tok:  &oauth2.Token{AccessToken: "a"},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AccessLifetime(tt.tok, now); got != tt.want {
				t.Errorf("AccessLifetime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshLifetime(t *testing.T) {
	tok := (&oauth2.Token{}).WithExtra(map[string]any{"refresh_expires_in": float64(1800)})
	got, ok := RefreshLifetime(tok)
	if !ok || got != 30*time.Minute {
		t.Errorf("RefreshLifetime() = %v, %v; want 30m, true", got, ok)
	}

	if _, ok := RefreshLifetime(&oauth2.Token{}); ok {
		t.Error("RefreshLifetime() should report missing field")
	}

	bad := (&oauth2.Token{}).WithExtra(map[string]any{"refresh_expires_in": "soon"})
	if _, ok := RefreshLifetime(bad); ok {
		t.Error("RefreshLifetime() should reject non-numeric values")
	}
}
