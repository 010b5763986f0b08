package model

import (
	"maps"
	"time"

	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// ConversationState is the escalation metadata of a conversation. It is
// advanced only through the escalation engine.
type ConversationState struct {
	Category           types.CategoryID
	CollectedInfo      map[types.FieldName]string
	AIInteractionCount int
	Urgency            types.Urgency
	EscalationRequired bool
	EscalatedAt        time.Time
	Stage              types.EscalationStage

	// Version is incremented by the repository on every successful write and
	// used for compare-and-set.
	Version int64
}

// NewConversationState returns the initial state of a conversation
func NewConversationState() ConversationState {
	return ConversationState{
		CollectedInfo: map[types.FieldName]string{},
		Urgency:       types.UrgencyLow,
		Stage:         types.StageCollecting,
	}
}

// IsEscalated returns true if the conversation was handed to a human
func (x ConversationState) IsEscalated() bool {
	return x.Stage == types.StageEscalated
}

// Merge returns x advanced by next. The interaction count never decreases,
// EscalationRequired and EscalatedAt are write-once, the stage only moves
// forward and collected info is unioned with non-empty newer values winning.
func (x ConversationState) Merge(next ConversationState) ConversationState {
	merged := x.Copy()

	if merged.Category == "" || (next.Category != "" && merged.Category == types.CategoryGeneral) {
		merged.Category = next.Category
	}
	if merged.CollectedInfo == nil {
		merged.CollectedInfo = map[types.FieldName]string{}
	}
	for k, v := range next.CollectedInfo {
		if v != "" {
			merged.CollectedInfo[k] = v
		}
	}
	if next.AIInteractionCount > merged.AIInteractionCount {
		merged.AIInteractionCount = next.AIInteractionCount
	}
	if next.Urgency.Rank() > merged.Urgency.Rank() {
		merged.Urgency = next.Urgency
	}
	merged.EscalationRequired = merged.EscalationRequired || next.EscalationRequired
	if merged.EscalatedAt.IsZero() {
		merged.EscalatedAt = next.EscalatedAt
	}
	if next.Stage.Rank() > merged.Stage.Rank() {
		merged.Stage = next.Stage
	}
	return merged
}

// Copy returns a deep copy of the state
func (x ConversationState) Copy() ConversationState {
	c := x
	if x.CollectedInfo != nil {
		c.CollectedInfo = maps.Clone(x.CollectedInfo)
	}
	return c
}
