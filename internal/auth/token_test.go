package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssueParse(t *testing.T) {
	issuer, err := NewTokenIssuer("unit-test-secret", "windscope-test")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	user := &User{ID: "u-1", Role: RoleAdmin}

	signed, exp, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) > 15*time.Minute {
		t.Fatalf("expiry too far out: %v", exp)
	}

	claims, err := issuer.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u-1" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenRejections(t *testing.T) {
	if _, err := NewTokenIssuer("  ", "x"); err == nil {
		t.Fatal("empty secret must be rejected")
	}

	issuer, err := NewTokenIssuer("unit-test-secret", "windscope-test")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	other, err := NewTokenIssuer("different-secret", "windscope-test")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	foreign, err := NewTokenIssuer("unit-test-secret", "someone-else")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	signed, _, err := issuer.Issue(&User{ID: "u-2", Role: RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := issuer.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: want ErrInvalidToken, got %v", err)
	}
	if _, err := other.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: want ErrInvalidToken, got %v", err)
	}
	if _, err := foreign.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	issuer, err := NewTokenIssuer("unit-test-secret", "windscope-test",
		WithTokenTTL(time.Minute), WithTokenClock(clock))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	signed, _, err := issuer.Issue(&User{ID: "u-3", Role: RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Parse(signed); err != nil {
		t.Fatalf("parse fresh: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := issuer.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: want ErrInvalidToken, got %v", err)
	}
}
