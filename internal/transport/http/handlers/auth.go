package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/transport/http/middleware"
	"github.com/arklim/campus-auth/internal/usecase"
)

const (
	forgotPasswordMessage     = "if an account exists for that email, a password reset link has been sent"
	resendVerificationMessage = "if an unverified account exists for that email, a verification link has been sent"
)

// AuthUsecase is the account security surface served over HTTP.
type AuthUsecase interface {
	Register(ctx context.Context, input usecase.RegisterInput) (usecase.RegisterResult, error)
	VerifyEmail(ctx context.Context, token string) error
	Login(ctx context.Context, input usecase.LoginInput) (*usecase.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*usecase.RefreshResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResendVerification(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, input usecase.ResetPasswordInput) error
	Logout(ctx context.Context, input usecase.LogoutInput) error
	CurrentAccount(ctx context.Context, accountID string) (*domain.Account, error)
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth   AuthUsecase
	logger *zap.Logger
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthUsecase, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

// AuthRouteMiddlewares groups the per-route middleware chains.
type AuthRouteMiddlewares struct {
	// Credential guards register, login, refresh and verify-email.
	Credential []gin.HandlerFunc
	// PasswordReset guards forgot-password, reset-password and resend-verification.
	PasswordReset []gin.HandlerFunc
	// Authenticated guards logout and me.
	Authenticated []gin.HandlerFunc
}

// RegisterRoutes binds authentication routes, applying the middleware chains ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, mw AuthRouteMiddlewares) {
	r.POST("/register", chain(mw.Credential, h.register)...)
	r.POST("/verify-email", chain(mw.Credential, h.verifyEmail)...)
	r.POST("/login", chain(mw.Credential, h.login)...)
	r.POST("/refresh", chain(mw.Credential, h.refresh)...)

	r.POST("/forgot-password", chain(mw.PasswordReset, h.forgotPassword)...)
	r.POST("/reset-password", chain(mw.PasswordReset, h.resetPassword)...)
	r.POST("/resend-verification", chain(mw.PasswordReset, h.resendVerification)...)

	r.POST("/logout", chain(mw.Authenticated, h.logout)...)
	r.GET("/me", chain(mw.Authenticated, h.me)...)
}

func chain(middlewares []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(middlewares)+1)
	handlers = append(handlers, middlewares...)
	return append(handlers, handler)
}

// Register godoc
// @Summary Register a new account
// @Description Creates an account and emails a verification link.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	result, err := h.auth.Register(c.Request.Context(), usecase.RegisterInput{
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		Role:           req.Role,
		PrivacyConsent: req.PrivacyConsent,
		TermsAccepted:  req.TermsAccepted,
	})
	if err != nil {
		RespondWithMappedError(c, h.logger, err, defaultErrorCases)
		return
	}

	message := "registration successful, check your email to verify your account"
	if result.EmailVerified {
		message = "registration successful"
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		AccountID:     result.AccountID,
		Email:         result.Email,
		Name:          result.Name,
		Role:          result.Role,
		EmailVerified: result.EmailVerified,
		Message:       message,
	})
}

// VerifyEmail godoc
// @Summary Verify an email address
// @Description Redeems a single-use email verification token.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body VerifyEmailRequest true "Verification token"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	if err := h.auth.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		RespondWithMappedError(c, h.logger, err, defaultErrorCases)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "email verified"})
}

// Login godoc
// @Summary Authenticate with email and password
// @Description Returns an access token and a refresh token. Repeated failures lock the account.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		RespondWithMappedError(c, h.logger, err, defaultErrorCases)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		User:         newAccountSummary(result.Account),
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
	})
}

// Refresh godoc
// @Summary Refresh an access token
// @Description Issues a new access token for a valid refresh token. The refresh token is not rotated.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} RefreshResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		cases := append([]ErrorCase{
			{Err: usecase.ErrInvalidToken, Status: http.StatusUnauthorized, Code: usecase.CodeInvalidToken, Message: "invalid refresh token"},
		}, defaultErrorCases...)
		RespondWithMappedError(c, h.logger, err, cases)
		return
	}

	c.JSON(http.StatusOK, RefreshResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
	})
}

// ForgotPassword godoc
// @Summary Request a password reset email
// @Description Always answers with the same message whether or not the email is registered.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Router /api/v1/auth/forgot-password [post]
func (h *AuthHandler) forgotPassword(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		RespondWithMappedError(c, h.logger, err, defaultErrorCases)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: forgotPasswordMessage})
}

// ResetPassword godoc
// @Summary Reset a password
// @Description Redeems a password reset token and sets a new password. Clears any lockout.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset token and new password"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Router /api/v1/auth/reset-password [post]
func (h *AuthHandler) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	err := h.auth.ResetPassword(c.Request.Context(), usecase.ResetPasswordInput{
		Token:       req.Token,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		RespondWithMappedError(c, h.logger, err, defaultErrorCases)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password has been reset"})
}

// ResendVerification godoc
// @Summary Resend the verification email
// @Description Replaces any outstanding verification token. Always answers with the same message.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Router /api/v1/auth/resend-verification [post]
func (h *AuthHandler) resendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		RespondWithMappedError(c, h.logger, err, defaultErrorCases)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: resendVerificationMessage})
}

// Logout godoc
// @Summary Log out
// @Description Revokes the presented access token and, when supplied, the refresh token.
// @Tags Authentication
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body LogoutRequest false "Optional refresh token"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	var req LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalidPayload(c)
			return
		}
	}

	accessToken, _ := middleware.BearerToken(c)

	err := h.auth.Logout(c.Request.Context(), usecase.LogoutInput{
		AccessToken:  accessToken,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		RespondWithMappedError(c, h.logger, err, defaultErrorCases)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// Me godoc
// @Summary Current account
// @Description Returns the account identified by the bearer access token.
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} AccountSummary
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	accountID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, usecase.CodeInvalidToken, "authentication required"))
		return
	}

	account, err := h.auth.CurrentAccount(c.Request.Context(), accountID)
	if err != nil {
		cases := append([]ErrorCase{
			{Err: usecase.ErrInvalidToken, Status: http.StatusUnauthorized, Code: usecase.CodeInvalidToken, Message: "account no longer exists"},
		}, defaultErrorCases...)
		RespondWithMappedError(c, h.logger, err, cases)
		return
	}

	c.JSON(http.StatusOK, newAccountSummary(*account))
}
