package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/infra/security"
)

func newTestIssuer(t *testing.T) (*TokenIssuer, *memStore, *fakeClock, *security.JWTManager) {
	t.Helper()
	clock := newFakeClock()
	store := newMemStore()
	manager := newTestJWTManager(t, clock)

	issuer, err := NewTokenIssuer(manager, store.repositories().Accounts, 15*time.Minute, 168*time.Hour, nil)
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}
	return issuer.WithClock(clock), store, clock, manager
}

func TestTokenIssuerAccessRoundTrip(t *testing.T) {
	issuer, _, clock, manager := newTestIssuer(t)

	token, expiresAt, err := issuer.IssueAccessToken("acc-1", domain.RoleInstructor)
	if err != nil {
		t.Fatalf("IssueAccessToken returned error: %v", err)
	}
	if !expiresAt.Equal(clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := issuer.VerifyAccessToken(context.Background(), token)
	if err != nil {
		t.Fatalf("VerifyAccessToken returned error: %v", err)
	}
	if claims.AccountID != "acc-1" || claims.Role != domain.RoleInstructor || claims.TokenID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	raw, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if raw.Type != "access" || raw.Issuer != "campus-auth" || len(raw.Audience) != 1 || raw.Audience[0] != "campus" {
		t.Fatalf("unexpected raw claims %+v", raw)
	}
}

func TestTokenIssuerRefreshTokenCarriesOnlySubject(t *testing.T) {
	issuer, _, _, manager := newTestIssuer(t)

	token, _, err := issuer.IssueRefreshToken("acc-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken returned error: %v", err)
	}
	raw, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if raw.Role != "" || raw.Type != "refresh" || raw.Subject != "acc-1" {
		t.Fatalf("unexpected refresh claims %+v", raw)
	}

	if _, err := issuer.VerifyAccessToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token rejected as access token, got %v", err)
	}
}

func TestTokenIssuerRejectsInvalidAccessTokens(t *testing.T) {
	issuer, _, clock, manager := newTestIssuer(t)

	valid, _, err := issuer.IssueAccessToken("acc-1", domain.RoleStudent)
	if err != nil {
		t.Fatalf("IssueAccessToken returned error: %v", err)
	}

	unknownRole, err := manager.Sign(&security.TokenClaims{
		Role: "superuser",
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acc-1",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
		},
	})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"tampered":     valid + "x",
		"unknown role": unknownRole,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := issuer.VerifyAccessToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	clock.Advance(15 * time.Minute)
	if _, err := issuer.VerifyAccessToken(context.Background(), valid); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestTokenIssuerRefreshUnknownAccount(t *testing.T) {
	issuer, _, _, _ := newTestIssuer(t)

	token, _, err := issuer.IssueRefreshToken("ghost")
	if err != nil {
		t.Fatalf("IssueRefreshToken returned error: %v", err)
	}
	if _, _, err := issuer.Refresh(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuerRefreshUsesCurrentRole(t *testing.T) {
	issuer, store, _, _ := newTestIssuer(t)
	store.setAccount(domain.Account{ID: "acc-1", Email: "a@example.com", Role: domain.RoleStudent, IsActive: true})

	refresh, _, err := issuer.IssueRefreshToken("acc-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken returned error: %v", err)
	}

	store.setAccount(domain.Account{ID: "acc-1", Email: "a@example.com", Role: domain.RoleAdmin, IsActive: true})
	access, _, err := issuer.Refresh(context.Background(), refresh)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	claims, err := issuer.VerifyAccessToken(context.Background(), access)
	if err != nil {
		t.Fatalf("VerifyAccessToken returned error: %v", err)
	}
	if claims.Role != domain.RoleAdmin {
		t.Fatalf("expected refreshed token to carry current role, got %s", claims.Role)
	}
}

func TestTokenIssuerRevocationFailureIsNotInvalidToken(t *testing.T) {
	issuer, _, _, _ := newTestIssuer(t)
	store := newMemRevocationStore()
	store.err = errors.New("redis down")
	issuer.WithRevocation(store)

	token, _, err := issuer.IssueAccessToken("acc-1", domain.RoleStudent)
	if err != nil {
		t.Fatalf("IssueAccessToken returned error: %v", err)
	}
	_, err = issuer.VerifyAccessToken(context.Background(), token)
	if err == nil || errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected internal revocation error, got %v", err)
	}
}

func TestTokenIssuerRejectsBadInputs(t *testing.T) {
	issuer, _, _, _ := newTestIssuer(t)

	if _, _, err := issuer.IssueAccessToken("", domain.RoleStudent); err == nil {
		t.Fatalf("expected error for empty account id")
	}
	if _, _, err := issuer.IssueAccessToken("acc-1", domain.Role("guest")); err == nil {
		t.Fatalf("expected error for unknown role")
	}
	if err := issuer.Revoke(context.Background(), "anything"); err != nil {
		t.Fatalf("expected revoke without store to be a no-op, got %v", err)
	}
}
