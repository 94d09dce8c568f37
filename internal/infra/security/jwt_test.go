package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func TestJWTManagerSignAndParse(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	manager := NewJWTManager(NewStaticKeyProvider("k1", newTestKey(t)), "campus-auth", "campus").
		WithClock(func() time.Time { return now })

	signed, err := manager.Sign(&TokenClaims{
		Role: "student",
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acc-1",
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
	})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	claims, err := manager.Parse(signed)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Subject != "acc-1" || claims.Role != "student" || claims.Type != "access" || claims.ID != "jti-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "campus-auth" {
		t.Fatalf("expected issuer campus-auth, got %s", claims.Issuer)
	}
}

func TestJWTManagerRejectsExpiredToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	current := now
	manager := NewJWTManager(NewStaticKeyProvider("k1", newTestKey(t)), "campus-auth", "campus").
		WithClock(func() time.Time { return current })

	signed, err := manager.Sign(&TokenClaims{
		Type: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acc-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	current = now.Add(2 * time.Minute)
	if _, err := manager.Parse(signed); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestJWTManagerRejectsForeignKeyAndAudience(t *testing.T) {
	now := time.Now()
	key := newTestKey(t)
	issuer := NewJWTManager(NewStaticKeyProvider("k1", key), "campus-auth", "other-audience")
	verifier := NewJWTManager(NewStaticKeyProvider("k1", key), "campus-auth", "campus")

	signed, err := issuer.Sign(&TokenClaims{Type: "access", RegisteredClaims: jwt.RegisteredClaims{
		Subject: "acc-1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if _, err := verifier.Parse(signed); err == nil {
		t.Fatal("expected audience mismatch to fail")
	}

	stranger := NewJWTManager(NewStaticKeyProvider("k1", newTestKey(t)), "campus-auth", "campus")
	forged, err := stranger.Sign(&TokenClaims{Type: "access", RegisteredClaims: jwt.RegisteredClaims{
		Subject: "acc-1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}})
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if _, err := verifier.Parse(forged); err == nil {
		t.Fatal("expected signature from foreign key to fail")
	}

	if _, err := verifier.Parse("not.a.jwt"); err == nil {
		t.Fatal("expected malformed token to fail")
	}
}

func TestJWTManagerJWKS(t *testing.T) {
	manager := NewJWTManager(NewStaticKeyProvider("k1", newTestKey(t)), "campus-auth", "campus")

	payload, err := manager.JWKS()
	if err != nil {
		t.Fatalf("JWKS returned error: %v", err)
	}

	var set struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(payload, &set); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0]["kid"] != "k1" || set.Keys[0]["alg"] != "RS256" {
		t.Fatalf("unexpected jwks %s", payload)
	}
}

func TestDirectoryKeyProvider(t *testing.T) {
	dir := t.TempDir()
	key := newTestKey(t)

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(dir, "2025-03.pem"), privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	old := newTestKey(t)
	publicDER, err := x509.MarshalPKIXPublicKey(&old.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(filepath.Join(dir, "2024-12.pub"), publicPEM, 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}

	provider, err := NewDirectoryKeyProvider(dir)
	if err != nil {
		t.Fatalf("NewDirectoryKeyProvider returned error: %v", err)
	}

	kid, signing, err := provider.SigningKey()
	if err != nil || kid != "2025-03" || signing == nil {
		t.Fatalf("unexpected signing key kid=%s err=%v", kid, err)
	}
	if _, err := provider.VerificationKey("2024-12"); err != nil {
		t.Fatalf("expected retired public key to verify: %v", err)
	}
	if _, err := provider.VerificationKey("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if len(provider.VerificationKeys()) != 2 {
		t.Fatalf("expected two verification keys")
	}
}

func TestNewKeyProviderFallsBackOutsideProduction(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	provider, ephemeral, err := NewKeyProvider(false, missing)
	if err != nil {
		t.Fatalf("NewKeyProvider returned error: %v", err)
	}
	if !ephemeral || provider == nil {
		t.Fatal("expected ephemeral provider outside production")
	}

	if _, _, err := NewKeyProvider(true, missing); err == nil {
		t.Fatal("expected production to require a key directory")
	}
}
