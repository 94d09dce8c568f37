package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/transport/http/middleware"
)

// ErrorResponse is the uniform error payload. Code is stable across releases.
type ErrorResponse struct {
	Code             string `json:"code"`
	Error            string `json:"error"`
	Field            string `json:"field,omitempty"`
	RemainingMinutes *int   `json:"remaining_minutes,omitempty"`
	TraceID          string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, code, message string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Error:   message,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountSummary is the public view of an account. Hashes and lockout counters never leave the service.
type AccountSummary struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Role          domain.Role `json:"role"`
	EmailVerified bool        `json:"email_verified"`
	LastLogin     *time.Time  `json:"last_login,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// RegisterRequest defines the account registration payload.
type RegisterRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	PrivacyConsent bool   `json:"privacy_consent"`
	TermsAccepted  bool   `json:"terms_accepted"`
}

// RegisterResponse contains the created account.
type RegisterResponse struct {
	AccountID     string      `json:"account_id"`
	Email         string      `json:"email"`
	Name          string      `json:"name"`
	Role          domain.Role `json:"role"`
	EmailVerified bool        `json:"email_verified"`
	Message       string      `json:"message"`
}

// VerifyEmailRequest carries the emailed verification token.
type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse describes the response returned for a successful login.
type LoginResponse struct {
	User         AccountSummary `json:"user"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int64          `json:"expires_in"`
}

// RefreshRequest represents the payload to refresh an access token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshResponse contains the access token minted by the refresh endpoint.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// EmailRequest is shared by forgot-password and resend-verification.
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResetPasswordRequest captures a password reset confirmation payload.
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// LogoutRequest optionally carries the refresh token so it can be revoked alongside the access token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// JWKSKey describes an individual JSON Web Key in the JWKS response.
type JWKSKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the JSON Web Key Set payload.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

func newAccountSummary(account domain.Account) AccountSummary {
	summary := AccountSummary{
		ID:            account.ID,
		Name:          account.Name,
		Email:         account.Email,
		Role:          account.Role,
		EmailVerified: account.EmailVerified,
		CreatedAt:     account.CreatedAt,
	}
	if account.LastLogin != nil {
		lastLogin := account.LastLogin.UTC()
		summary.LastLogin = &lastLogin
	}
	return summary
}
