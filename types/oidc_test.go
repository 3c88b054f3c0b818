package types

import (
	"encoding/json"
	"testing"
)

func TestFlexibleBoolean(t *testing.T) {
	tests := []struct {
		json    string
		want    bool
		wantErr bool
	}{
		{`{"email_verified": true}`, true, false},
		{`{"email_verified": false}`, false, false},
		{`{"email_verified": "true"}`, true, false},
		{`{"email_verified": "false"}`, false, false},
		{`{"email_verified": 1}`, false, true},
		{`{"email_verified": "yes please"}`, false, true},
	}

	for _, tt := range tests {
		var claims OIDCClaims
		err := json.Unmarshal([]byte(tt.json), &claims)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected an error", tt.json)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.json, err)
			continue
		}
		if bool(claims.EmailVerified) != tt.want {
			t.Errorf("%s: got %v, want %v", tt.json, claims.EmailVerified, tt.want)
		}
	}
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		iss, sub string
		want     string
	}{
		{"url issuer", "https://idp.example.com", "abc123", "https://idp.example.com/abc123"},
		{"trailing slash", "https://idp.example.com/", "abc123", "https://idp.example.com/abc123"},
		{"plain issuer", "idp", "abc123", "idp/abc123"},
		{"empty issuer", "", "abc123", "abc123"},
		{"empty subject", "https://idp.example.com", "", "https://idp.example.com"},
		{"both empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &OIDCClaims{Iss: tt.iss, Sub: tt.sub}
			if got := c.Identifier(); got != tt.want {
				t.Errorf("Identifier() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanIdentifier(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"https://idp.example.com//user//abc", "https://idp.example.com/user/abc"},
		{"  https://idp.example.com/abc ", "https://idp.example.com/abc"},
	}

	for _, tt := range tests {
		if got := CleanIdentifier(tt.in); got != tt.want {
			t.Errorf("CleanIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
