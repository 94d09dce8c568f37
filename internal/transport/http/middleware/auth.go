package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-auth/internal/usecase"
)

const (
	claimsKey = "claims"
	// RoleKey is the context key for the authenticated account role
	RoleKey = "role"
)

// AccessTokenVerifier validates bearer access tokens.
type AccessTokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*usecase.AccessClaims, error)
}

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Code:    usecase.CodeInvalidToken,
		Error:   message,
		TraceID: GetTraceID(c),
	})
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// RequireAuth validates the Authorization header and stores the verified claims.
func RequireAuth(verifier AccessTokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		token, ok := BearerToken(c)
		if !ok {
			abortUnauthorized(c, "invalid authorization format: expected 'Bearer <token>'")
			return
		}

		claims, err := verifier.VerifyAccessToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidToken) {
				abortUnauthorized(c, "invalid or expired access token")
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
				Code:    usecase.CodeInternal,
				Error:   "authentication failed",
				TraceID: GetTraceID(c),
			})
			return
		}

		c.Set(AccountIDKey, claims.AccountID)
		c.Set(RoleKey, claims.Role)
		c.Set(claimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.AccountID = claims.AccountID
		}

		c.Next()
	}
}

// GetAuthenticatedAccountID retrieves the account ID stored by RequireAuth.
func GetAuthenticatedAccountID(c *gin.Context) (string, bool) {
	accountID, exists := c.Get(AccountIDKey)
	if !exists {
		return "", false
	}

	if id, ok := accountID.(string); ok && id != "" {
		return id, true
	}

	return "", false
}

// GetAccessClaims retrieves the verified claims stored by RequireAuth.
func GetAccessClaims(c *gin.Context) (*usecase.AccessClaims, bool) {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*usecase.AccessClaims)
	return claims, ok
}
