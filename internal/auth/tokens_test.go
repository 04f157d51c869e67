package auth

import (
	"errors"
	"testing"
	"time"
)

func TestNewTokenIssuerValidation(t *testing.T) {
	if _, err := NewTokenIssuer(TokenConfig{AccessSecret: "", RefreshSecret: "r"}); err == nil {
		t.Fatal("missing access secret accepted")
	}
	if _, err := NewTokenIssuer(TokenConfig{AccessSecret: "a", RefreshSecret: "   "}); err == nil {
		t.Fatal("blank refresh secret accepted")
	}
	if _, err := NewTokenIssuer(TokenConfig{AccessSecret: "same", RefreshSecret: "same"}); err == nil {
		t.Fatal("identical secrets accepted")
	}
	if _, err := NewTokenIssuer(TokenConfig{AccessSecret: "a", RefreshSecret: "r"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)
	deviceID := NewDeviceID()

	tokens, err := issuer.Issue("user-1", "jane@example.com", deviceID, false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tokens.DeviceID != deviceID {
		t.Fatalf("device id = %s, want %s", tokens.DeviceID, deviceID)
	}

	claims, err := issuer.ParseAccess(tokens.Access.Value)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "jane@example.com" || claims.DeviceID != deviceID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("issuer = %s", claims.Issuer)
	}

	if _, err := issuer.ParseRefresh(tokens.Refresh.Value); err != nil {
		t.Fatalf("ParseRefresh: %v", err)
	}
}

func TestParseRejectsCrossTypeTokens(t *testing.T) {
	issuer := newTestIssuer(t)
	tokens, err := issuer.Issue("user-1", "jane@example.com", NewDeviceID(), false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := issuer.ParseAccess(tokens.Refresh.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token parsed as access: %v", err)
	}
	if _, err := issuer.ParseRefresh(tokens.Access.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token parsed as refresh: %v", err)
	}
}

func TestParseRejectsForeignSecret(t *testing.T) {
	issuer := newTestIssuer(t)
	other, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  "other-access-secret",
		RefreshSecret: "other-refresh-secret",
		Issuer:        "test-issuer",
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	tokens, err := other.Issue("user-1", "jane@example.com", NewDeviceID(), false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.ParseAccess(tokens.Access.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}
	if _, err := issuer.ParseAccess(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: %v", err)
	}
	if _, err := issuer.ParseAccess("garbage.garbage.garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: %v", err)
	}
}

func TestTokenLifetimes(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenConfig{
		AccessSecret:       "access-secret",
		RefreshSecret:      "refresh-secret",
		AccessMinutes:      30,
		RefreshMinutes:     60,
		RefreshLongMinutes: 120,
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	issuer.now = func() time.Time { return current }

	tokens, err := issuer.Issue("user-1", "jane@example.com", NewDeviceID(), false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := tokens.Access.TotalDuration; got != 30*60_000 {
		t.Fatalf("access duration ms = %d", got)
	}
	if got := tokens.Refresh.TotalDuration; got != 60*60_000 {
		t.Fatalf("refresh duration ms = %d", got)
	}
	if want := current.Add(30 * time.Minute); !tokens.Access.ExpiresAt.Equal(want) {
		t.Fatalf("access expiry = %v, want %v", tokens.Access.ExpiresAt, want)
	}

	long, err := issuer.Issue("user-1", "jane@example.com", NewDeviceID(), true)
	if err != nil {
		t.Fatalf("Issue long: %v", err)
	}
	if got := long.Refresh.TotalDuration; got != 120*60_000 {
		t.Fatalf("long refresh duration ms = %d", got)
	}

	// The parser uses the injected clock, so an expired token is rejected
	// the instant its lifetime lapses.
	current = current.Add(30*time.Minute + time.Second)
	if _, err := issuer.ParseAccess(tokens.Access.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired access token accepted: %v", err)
	}
	if _, err := issuer.ParseRefresh(tokens.Refresh.Value); err != nil {
		t.Fatalf("refresh token should outlive access: %v", err)
	}
}
