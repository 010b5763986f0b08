package types

import "github.com/m-mizutani/goerr/v2"

// Role represents a message role
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleCompany   Role = "company"
	RoleSystem    Role = "system"
)

// AllRoles returns all valid values of Role
func AllRoles() []Role {
	return []Role{
		RoleUser,
		RoleAssistant,
		RoleCompany,
		RoleSystem,
	}
}

// IsValid checks if the message role is valid
func (x Role) IsValid() bool {
	switch x {
	case RoleUser,
		RoleAssistant,
		RoleCompany,
		RoleSystem:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x Role) String() string {
	return string(x)
}

// ParseRole parses a string into a Role
func ParseRole(s string) (Role, error) {
	v := Role(s)
	if !v.IsValid() {
		return "", goerr.New("invalid message role", goerr.V("value", s))
	}
	return v, nil
}
// IsCustomer returns true if the message was written by the end user.
func (x Role) IsCustomer() bool {
	return x == RoleUser
}
