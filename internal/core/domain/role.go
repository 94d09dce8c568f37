package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Role is the closed set of principal roles an account can hold.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Roles lists every valid role in display order.
func Roles() []Role {
	return []Role{RoleStudent, RoleInstructor, RoleAdmin}
}

// ParseRole maps user input onto the closed role set.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q, expected one of %v", value, Roles())
	}
	return role, nil
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	return slices.Contains(Roles(), r)
}

func (r Role) String() string {
	return string(r)
}
