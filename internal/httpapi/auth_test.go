package httpapi

import (
	"testing"
	"time"

	"warungsync/backend/internal/domain"
)

func newTestAuth(t *testing.T, secret string) *AuthManager {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")
	return NewAuthManager(secret, time.Hour)
}

func TestLoginAndParseToken(t *testing.T) {
	auth := newTestAuth(t, "0123456789abcdef0123456789abcdef")

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != "admin" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	auth := newTestAuth(t, "0123456789abcdef0123456789abcdef")

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "wrong"}); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "admin123"}); err == nil {
		t.Fatalf("expected unknown user to be rejected")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := newTestAuth(t, "0123456789abcdef0123456789abcdef")
	verifier := newTestAuth(t, "ffffffffffffffffffffffffffffffff")

	resp, err := issuer.Login(domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := newTestAuth(t, "0123456789abcdef0123456789abcdef")

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := auth.ParseToken(token); err == nil {
			t.Fatalf("expected %q to be rejected", token)
		}
	}
}

func TestAttemptLimiterBlocksAfterBudget(t *testing.T) {
	limiter := newAttemptLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("fourth attempt should be blocked")
	}
	// Another client has its own budget.
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("different client must not share the budget")
	}
}
