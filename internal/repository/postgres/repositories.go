package postgres

import "github.com/arklim/campus-auth/internal/core/port"

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool pgPool) port.Repositories {
	return port.Repositories{
		Accounts: NewAccountRepository(pool),
		Tokens:   NewEphemeralTokenRepository(pool),
	}
}
