package types

import "github.com/m-mizutani/goerr/v2"

// EscalationStage represents an escalation stage
type EscalationStage string

const (
	StageCollecting      EscalationStage = "collecting"
	StageReadyToEscalate EscalationStage = "ready_to_escalate"
	StageEscalated       EscalationStage = "escalated"
)

// AllEscalationStages returns all valid values of EscalationStage
func AllEscalationStages() []EscalationStage {
	return []EscalationStage{
		StageCollecting,
		StageReadyToEscalate,
		StageEscalated,
	}
}

// IsValid checks if the escalation stage is valid
func (x EscalationStage) IsValid() bool {
	switch x {
	case StageCollecting,
		StageReadyToEscalate,
		StageEscalated:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x EscalationStage) String() string {
	return string(x)
}

// ParseEscalationStage parses a string into an EscalationStage
func ParseEscalationStage(s string) (EscalationStage, error) {
	v := EscalationStage(s)
	if !v.IsValid() {
		return "", goerr.New("invalid escalation stage", goerr.V("value", s))
	}
	return v, nil
}

// EscalationPriority represents an escalation priority
type EscalationPriority string

const (
	EscalationPriorityNormal EscalationPriority = "normal"
	EscalationPriorityMedium EscalationPriority = "medium"
	EscalationPriorityHigh   EscalationPriority = "high"
	EscalationPriorityUrgent EscalationPriority = "urgent"
)

// AllEscalationPriorities returns all valid values of EscalationPriority
func AllEscalationPriorities() []EscalationPriority {
	return []EscalationPriority{
		EscalationPriorityNormal,
		EscalationPriorityMedium,
		EscalationPriorityHigh,
		EscalationPriorityUrgent,
	}
}

// IsValid checks if the escalation priority is valid
func (x EscalationPriority) IsValid() bool {
	switch x {
	case EscalationPriorityNormal,
		EscalationPriorityMedium,
		EscalationPriorityHigh,
		EscalationPriorityUrgent:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x EscalationPriority) String() string {
	return string(x)
}

// ParseEscalationPriority parses a string into an EscalationPriority
func ParseEscalationPriority(s string) (EscalationPriority, error) {
	v := EscalationPriority(s)
	if !v.IsValid() {
		return "", goerr.New("invalid escalation priority", goerr.V("value", s))
	}
	return v, nil
}
// Rank returns the position of the stage in the escalation flow. Stages only
// move forward.
func (x EscalationStage) Rank() int {
	switch x {
	case StageCollecting:
		return 1
	case StageReadyToEscalate:
		return 2
	case StageEscalated:
		return 3
	default:
		return 0
	}
}
