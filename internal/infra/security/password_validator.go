package security

import (
	"errors"
	"fmt"
	"math/bits"
	"unicode"
	"unicode/utf8"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// Stable violation codes surfaced to API clients.
const (
	ViolationMinLength        = "min_length"
	ViolationMaxLength        = "max_length"
	ViolationCharacterClasses = "character_classes"
	ViolationWeakPassword     = "weak_password"
)

const maxZxcvbnScore = 4

// PasswordValidationError is a single password policy violation; Code is stable for clients.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func violation(code, format string, args ...any) *PasswordValidationError {
	return &PasswordValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string) error
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) error

// Validate executes the underlying rule function.
func (f PasswordRuleFunc) Validate(password string) error {
	return f(password)
}

// PasswordValidator applies rules in order and stops at the first violation.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator constructs a validator with the provided rules. Nil rules are skipped.
func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	kept := make([]PasswordRule, 0, len(rules))
	for _, rule := range rules {
		if rule != nil {
			kept = append(kept, rule)
		}
	}
	return &PasswordValidator{rules: kept}
}

func (v *PasswordValidator) Validate(password string) error {
	if v == nil {
		return errors.New("password validator not configured")
	}
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule counts runes, not bytes, so non-ASCII passwords are not penalised.
func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if utf8.RuneCountInString(password) >= min {
			return nil
		}
		return violation(ViolationMinLength, "password must be at least %d characters long", min)
	})
}

// MaxBytesRule rejects passwords bcrypt would silently truncate.
func MaxBytesRule(max int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if len(password) <= max {
			return nil
		}
		return violation(ViolationMaxLength, "password must be at most %d bytes long", max)
	})
}

const (
	classUpper uint8 = 1 << iota
	classLower
	classDigit
	classSymbol
)

func characterClasses(password string) int {
	var seen uint8
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			seen |= classUpper
		case unicode.IsLower(r):
			seen |= classLower
		case unicode.IsDigit(r):
			seen |= classDigit
		case unicode.IsSymbol(r), unicode.IsPunct(r):
			seen |= classSymbol
		}
	}
	return bits.OnesCount8(seen)
}

// RequireCharacterClassesRule requires min of upper, lower, digit and symbol. min <= 0 disables it.
func RequireCharacterClassesRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if min <= 0 || characterClasses(password) >= min {
			return nil
		}
		return violation(ViolationCharacterClasses, "password must include at least %d character types", min)
	})
}

// RequirePasswordStrengthRule enforces a zxcvbn score. userInputs (name, email) count against the
// password so "alice2024" is weak for alice@example.com.
func RequirePasswordStrengthRule(minScore int, userInputs ...string) PasswordRule {
	if minScore > maxZxcvbnScore {
		minScore = maxZxcvbnScore
	}
	return PasswordRuleFunc(func(password string) error {
		if minScore <= 0 {
			return nil
		}
		if zxcvbn.PasswordStrength(password, userInputs).Score >= minScore {
			return nil
		}
		return violation(ViolationWeakPassword, "password is too weak; avoid common words and personal details")
	})
}
