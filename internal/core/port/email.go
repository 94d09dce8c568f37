package port

import (
	"context"

	"github.com/arklim/campus-auth/internal/core/domain"
)

// EmailSender hands credential emails to the delivery pipeline. Implementations
// must not block on the actual mail transport.
type EmailSender interface {
	SendVerification(ctx context.Context, msg domain.EmailVerificationRequestedEvent) error
	SendPasswordReset(ctx context.Context, msg domain.PasswordResetRequestedEvent) error
}
