package port

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify reports whether password matches digest. Malformed digests yield false.
	Verify(password string, digest string) bool
}

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}
