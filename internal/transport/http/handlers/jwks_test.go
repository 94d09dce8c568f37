package handlers

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-auth/internal/infra/security"
)

func newJWKSRouter(t *testing.T, maxAge time.Duration) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	manager := security.NewJWTManager(security.NewStaticKeyProvider("campus-k1", key), "campus-auth", "campus")

	r := gin.New()
	r.GET("/.well-known/jwks.json", NewJWKSHandler(manager, maxAge).Keys)
	return r
}

func TestJWKSCachesForAccessTokenLifetime(t *testing.T) {
	r := newJWKSRouter(t, 15*time.Minute)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Cache-Control"); got != "public, max-age=900" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
	if rr.Header().Get("ETag") == "" {
		t.Fatalf("expected an ETag header")
	}
}

func TestJWKSNotModifiedForMatchingETag(t *testing.T) {
	r := newJWKSRouter(t, 0)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	etag := first.Header().Get("ETag")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", `"stale", W/`+etag)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body on 304, got %q", rr.Body.String())
	}
	if got := rr.Header().Get("Cache-Control"); got != "public, max-age=900" {
		t.Fatalf("expected default max-age on 304, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for a stale ETag, got %d", rr.Code)
	}
}

func TestJWKSUnavailableWithoutManager(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/.well-known/jwks.json", NewJWKSHandler(nil, time.Minute).Keys)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
