package security

import (
	"strings"

	"github.com/arklim/campus-auth/internal/core/port"
)

const defaultMinPasswordLength = 8

// PolicySettings selects which password rules apply.
type PolicySettings struct {
	MinLength           int
	MinCharacterClasses int
	// MinStrength is a zxcvbn score in [0,4]; 0 disables the check.
	MinStrength int
}

// PasswordPolicy builds a fresh validator per call so the zxcvbn rule can
// penalise passwords derived from the account's own name or email.
type PasswordPolicy struct {
	settings PolicySettings
}

// NewPasswordPolicy fills unset limits with defaults.
func NewPasswordPolicy(settings PolicySettings) *PasswordPolicy {
	if settings.MinLength <= 0 {
		settings.MinLength = defaultMinPasswordLength
	}
	return &PasswordPolicy{settings: settings}
}

// Validate returns a *PasswordValidationError for the first rule the password breaks.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	inputs := make([]string, 0, len(userInputs))
	for _, input := range userInputs {
		if trimmed := strings.TrimSpace(input); trimmed != "" {
			inputs = append(inputs, trimmed)
		}
	}

	return NewPasswordValidator(
		MinLengthRule(p.settings.MinLength),
		MaxBytesRule(MaxPasswordBytes),
		RequireCharacterClassesRule(p.settings.MinCharacterClasses),
		RequirePasswordStrengthRule(p.settings.MinStrength, inputs...),
	).Validate(password)
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
