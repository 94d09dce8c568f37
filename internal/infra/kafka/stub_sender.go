package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/campus-auth/internal/core/domain"
	"github.com/arklim/campus-auth/internal/core/port"
	"github.com/arklim/campus-auth/internal/infra/logger"
)

// StubEmailSender logs mail requests instead of publishing them. Used when Kafka is disabled.
type StubEmailSender struct {
	logger *zap.Logger
	// revealTokens prints full tokens so local runs can complete the flows by hand.
	revealTokens bool
}

// NewStubEmailSender constructs a logging email sender.
func NewStubEmailSender(log *zap.Logger, revealTokens bool) *StubEmailSender {
	return &StubEmailSender{logger: log, revealTokens: revealTokens}
}

func (s *StubEmailSender) log(eventType, accountID, email, token string, expiresAt time.Time) {
	shown := logger.MaskToken(token)
	if s.revealTokens {
		shown = token
	}
	s.logger.Info("email delivery stubbed",
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("token", shown),
		zap.Time("expires_at", expiresAt.UTC()),
	)
}

func (s *StubEmailSender) SendVerification(_ context.Context, msg domain.EmailVerificationRequestedEvent) error {
	s.log(TopicVerificationRequested, msg.AccountID, msg.Email, msg.Token, msg.ExpiresAt)
	return nil
}

func (s *StubEmailSender) SendPasswordReset(_ context.Context, msg domain.PasswordResetRequestedEvent) error {
	s.log(TopicPasswordResetRequested, msg.AccountID, msg.Email, msg.Token, msg.ExpiresAt)
	return nil
}

var _ port.EmailSender = (*StubEmailSender)(nil)
