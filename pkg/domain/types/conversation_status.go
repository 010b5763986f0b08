package types

import "github.com/m-mizutani/goerr/v2"

// ConversationStatus represents a conversation status
type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
)

// AllConversationStatuses returns all valid values of ConversationStatus
func AllConversationStatuses() []ConversationStatus {
	return []ConversationStatus{
		ConversationStatusOpen,
		ConversationStatusClosed,
	}
}

// IsValid checks if the conversation status is valid
func (x ConversationStatus) IsValid() bool {
	switch x {
	case ConversationStatusOpen,
		ConversationStatusClosed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x ConversationStatus) String() string {
	return string(x)
}

// ParseConversationStatus parses a string into a ConversationStatus
func ParseConversationStatus(s string) (ConversationStatus, error) {
	v := ConversationStatus(s)
	if !v.IsValid() {
		return "", goerr.New("invalid conversation status", goerr.V("value", s))
	}
	return v, nil
}
