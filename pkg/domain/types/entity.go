package types

import "github.com/m-mizutani/goerr/v2"

// EntityKind represents an entity kind
type EntityKind string

const (
	EntityKindMessage        EntityKind = "message"
	EntityKindKnowledge      EntityKind = "knowledge"
	EntityKindResolutionPath EntityKind = "resolution_path"
)

// AllEntityKinds returns all valid values of EntityKind
func AllEntityKinds() []EntityKind {
	return []EntityKind{
		EntityKindMessage,
		EntityKindKnowledge,
		EntityKindResolutionPath,
	}
}

// IsValid checks if the entity kind is valid
func (x EntityKind) IsValid() bool {
	switch x {
	case EntityKindMessage,
		EntityKindKnowledge,
		EntityKindResolutionPath:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x EntityKind) String() string {
	return string(x)
}

// ParseEntityKind parses a string into an EntityKind
func ParseEntityKind(s string) (EntityKind, error) {
	v := EntityKind(s)
	if !v.IsValid() {
		return "", goerr.New("invalid entity kind", goerr.V("value", s))
	}
	return v, nil
}
