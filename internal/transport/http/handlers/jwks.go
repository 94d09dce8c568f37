package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-auth/internal/infra/security"
	"github.com/arklim/campus-auth/internal/usecase"
)

// defaultJWKSMaxAge applies when no access token lifetime is supplied.
const defaultJWKSMaxAge = 15 * time.Minute

// JWKSHandler publishes the RS256 verification keys so course and library
// services can check campus access tokens without calling back.
type JWKSHandler struct {
	manager *security.JWTManager
	maxAge  time.Duration
}

// NewJWKSHandler constructs a JWKS handler. Consumers may cache the set for
// maxAge, which should not exceed the access token lifetime so a rotated key
// is picked up before tokens signed with it arrive.
func NewJWKSHandler(manager *security.JWTManager, maxAge time.Duration) *JWKSHandler {
	if maxAge <= 0 {
		maxAge = defaultJWKSMaxAge
	}
	return &JWKSHandler{manager: manager, maxAge: maxAge}
}

// Keys godoc
// @Summary Retrieve JSON Web Key Set
// @Description Exposes the public keys used to verify access and refresh token signatures.
// @Description Responses carry an ETag; a matching If-None-Match yields 304.
// @Tags Public
// @Produce json
// @Success 200 {object} JWKSResponse
// @Success 304 "key set unchanged"
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /.well-known/jwks.json [get]
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h == nil || h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, usecase.CodeInternal, "jwks not available"))
		return
	}

	payload, err := h.manager.JWKS()
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, usecase.CodeInternal, "failed to render jwks"))
		return
	}

	etag := keySetETag(payload)
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	c.Header("ETag", etag)

	if etagMatches(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(http.StatusOK, "application/json", payload)
}

func keySetETag(payload []byte) string {
	sum := sha256.Sum256(payload)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// etagMatches implements the weak comparison If-None-Match asks for.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
