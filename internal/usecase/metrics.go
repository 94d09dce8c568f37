package usecase

import (
	"github.com/arklim/campus-auth/internal/infra/telemetry"
)

// AuthMetrics receives auth outcome observations.
type AuthMetrics interface {
	ObserveLogin(outcome string)
	ObserveLockout()
	ObserveRegistration()
	ObserveTokenIssued(tokenType string)
	ObserveEmail(kind, outcome string)
}

const (
	emailKindVerification  = "verification"
	emailKindPasswordReset = "password_reset"

	emailOutcomeSent    = "sent"
	emailOutcomeFailed  = "failed"
	emailOutcomeSkipped = "skipped"
)

func loginOutcome(err error) string {
	switch ErrorCode(err) {
	case "":
		return telemetry.OutcomeSuccess
	case CodeInvalidCredentials:
		return telemetry.OutcomeInvalidCredentials
	case CodeAccountLocked:
		return telemetry.OutcomeLocked
	case CodeAccountInactive:
		return telemetry.OutcomeInactive
	case CodeEmailNotVerified:
		return telemetry.OutcomeUnverified
	default:
		return telemetry.OutcomeError
	}
}
