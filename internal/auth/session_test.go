package auth

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	m, err := New("secret", time.Hour)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	token, err := m.Issue("  Me@Example.COM ", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	email, err := m.Parse(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if email != "me@example.com" {
		t.Fatalf("email = %q", email)
	}
}

func TestParseRejects(t *testing.T) {
	m, _ := New("secret", time.Hour)
	other, _ := New("other-secret", time.Hour)
	now := time.Unix(1_700_000_000, 0)
	token, _ := m.Issue("me@example.com", now)
	forged, _ := other.Issue("me@example.com", now)

	tests := []struct {
		name  string
		token string
		at    time.Time
		want  error
	}{
		{name: "empty", token: "", at: now, want: ErrMissingSession},
		{name: "not base64", token: "%%%", at: now, want: ErrInvalidSession},
		{name: "wrong shape", token: base64.RawURLEncoding.EncodeToString([]byte("a|b")), at: now, want: ErrInvalidSession},
		{name: "other secret", token: forged, at: now, want: ErrInvalidSession},
		{name: "expired", token: token, at: now.Add(2 * time.Hour), want: ErrSessionExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Parse(tt.token, tt.at); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIssueRejectsInvalidEmail(t *testing.T) {
	m, _ := New("", time.Hour)
	for _, email := range []string{"", "not an email"} {
		if _, err := m.Issue(email, time.Now()); err == nil {
			t.Errorf("Issue(%q) succeeded", email)
		}
	}
}
