package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/usecase"
)

const genericInternalMessage = "internal server error"

// ErrorCase maps a sentinel error to an HTTP status code, stable code and response message.
// An empty Message falls back to the error text.
type ErrorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// defaultErrorCases covers every expected usecase outcome.
var defaultErrorCases = []ErrorCase{
	{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Code: usecase.CodeValidation},
	{Err: usecase.ErrEmailExists, Status: http.StatusConflict, Code: usecase.CodeEmailExists, Message: "email already registered"},
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Code: usecase.CodeInvalidCredentials, Message: "invalid email or password"},
	{Err: usecase.ErrAccountLocked, Status: http.StatusLocked, Code: usecase.CodeAccountLocked},
	{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Code: usecase.CodeAccountInactive, Message: "account is not active"},
	{Err: usecase.ErrEmailNotVerified, Status: http.StatusForbidden, Code: usecase.CodeEmailNotVerified, Message: "email address has not been verified"},
	{Err: usecase.ErrInvalidToken, Status: http.StatusBadRequest, Code: usecase.CodeInvalidToken, Message: "invalid or expired token"},
	{Err: usecase.ErrTooManyRequests, Status: http.StatusTooManyRequests, Code: usecase.CodeTooManyRequests, Message: "too many requests"},
}

// DefaultErrorCases returns a copy of the standard mapping so callers can prepend overrides.
func DefaultErrorCases() []ErrorCase {
	cases := make([]ErrorCase, len(defaultErrorCases))
	copy(cases, defaultErrorCases)
	return cases
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic 500.
func RespondWithMappedError(c *gin.Context, logger *zap.Logger, err error, cases []ErrorCase) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil || !errors.Is(err, cs.Err) {
			continue
		}

		message := cs.Message
		if message == "" {
			message = err.Error()
		}
		resp := NewErrorResponse(c, cs.Code, message)

		var validationErr *usecase.ValidationError
		if errors.As(err, &validationErr) {
			resp.Field = validationErr.Field
			resp.Error = validationErr.Message
		}

		var lockedErr *usecase.LockedError
		if errors.As(err, &lockedErr) {
			remaining := lockedErr.RemainingMinutes
			resp.RemainingMinutes = &remaining
			c.Header("Retry-After", strconv.Itoa(remaining*60))
		}

		if logger != nil {
			logger.Debug("request rejected",
				zap.String("code", cs.Code),
				zap.String("path", c.FullPath()),
			)
		}

		c.JSON(cs.Status, resp)
		return
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, NewErrorResponse(c, usecase.CodeInternal, genericInternalMessage))
}

func respondInvalidPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, usecase.CodeValidation, "invalid request payload"))
}
