package lookup

import (
	"errors"
	"strings"
	"testing"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		allowed   []string
		wantAttr  string
		wantValue string
		wantErr   bool
	}{
		{name: "single pair", raw: "email=a%40example.com", wantAttr: "email", wantValue: "a@example.com"},
		{name: "first key wins in caller order", raw: "username=zed&email=a%40example.com", wantAttr: "username", wantValue: "zed"},
		{name: "plus decodes to space", raw: "lastName=van+Dijk", wantAttr: "lastName", wantValue: "van Dijk"},
		{name: "leading empty pairs skipped", raw: "&&firstName=Ann", wantAttr: "firstName", wantValue: "Ann"},
		{name: "custom allow-list", raw: "id=42", allowed: []string{"id"}, wantAttr: "id", wantValue: "42"},
		{name: "empty query", raw: "", wantErr: true},
		{name: "attribute not allowed", raw: "password=x", wantErr: true},
		{name: "first key not allowed is not skipped", raw: "password=x&email=a", wantErr: true},
		{name: "empty value", raw: "email=", wantErr: true},
		{name: "key without value", raw: "email", wantErr: true},
		{name: "case-sensitive attribute", raw: "Email=a", wantErr: true},
		{name: "malformed escape", raw: "email=%zz", wantErr: true},
		{name: "oversized value", raw: "email=" + strings.Repeat("a", 256), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.raw, tt.allowed)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Fatalf("ParseQuery(%q) error = %v, want ErrInvalidQuery", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQuery(%q) unexpected error: %v", tt.raw, err)
			}
			if q.Attribute != tt.wantAttr || q.Value != tt.wantValue {
				t.Errorf("ParseQuery(%q) = %+v, want {%s %s}", tt.raw, q, tt.wantAttr, tt.wantValue)
			}
		})
	}
}

func TestQueryParams(t *testing.T) {
	q, err := NewQuery("email", "a@example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := q.Params().Encode(); got != "email=a%40example.com" {
		t.Errorf("Params().Encode() = %q", got)
	}
}
