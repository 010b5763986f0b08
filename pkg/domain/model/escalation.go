package model

import "github.com/secmon-lab/hermes/pkg/domain/types"

// EscalationDecision is computed fresh on every automated turn and is not
// stored on its own.
type EscalationDecision struct {
	ShouldEscalate bool
	// Triggered is true only on the turn that moved the conversation forward.
	// Re-evaluating an escalated conversation yields ShouldEscalate=true with
	// Triggered=false.
	Triggered     bool
	Priority      types.EscalationPriority
	TargetChannel string
	NotifyTargets []string
	Reason        string
	Stage         types.EscalationStage
}

// NotificationField is a structured entry of a notification payload
type NotificationField struct {
	Name  string
	Value string
}

// Notification is the payload handed to the notification collaborator
type Notification struct {
	ConversationID ConversationID
	Channel        string
	Targets        []string
	Priority       types.EscalationPriority
	Tag            string
	Title          string
	Reason         string
	Fields         []NotificationField
	Link           string
}
