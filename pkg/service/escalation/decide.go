package escalation

import (
	"fmt"
	"strings"

	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// Signals are the per-turn inputs of a decision besides the stored state
type Signals struct {
	// Text is the latest customer message
	Text    string
	Urgency types.Urgency
	// EscalationRequested is set when analysis asks for a human
	EscalationRequested bool
	// RetrievalConfidence is the confidence of the retrieved context. It is
	// only considered when HasRetrieval is set.
	RetrievalConfidence float64
	HasRetrieval        bool
}

// Rules evaluates escalation conditions. It holds no state.
type Rules struct {
	MaxInteractions        int
	LowConfidenceThreshold float64
	Intake                 *Intake
}

// Decide evaluates state against the rules. It never mutates state. An
// escalated state always yields ShouldEscalate without Triggered.
func (r Rules) Decide(state model.ConversationState, in Signals) model.EscalationDecision {
	urgency := state.Urgency
	if in.Urgency.Rank() > urgency.Rank() {
		urgency = in.Urgency
	}

	if state.IsEscalated() {
		return model.EscalationDecision{
			ShouldEscalate: true,
			Priority:       priorityOf(urgency, false, false),
			Reason:         "already escalated",
			Stage:          types.StageEscalated,
		}
	}

	var reasons []string
	limitReached := false

	if urgency == types.UrgencyHigh {
		reasons = append(reasons, "urgency is high")
	}
	if in.EscalationRequested {
		reasons = append(reasons, "analysis requested a human agent")
	}
	if r.Intake != nil && r.Intake.IsComplete(state) {
		reasons = append(reasons, "all required information collected")
	}
	if r.MaxInteractions > 0 && state.AIInteractionCount >= r.MaxInteractions {
		reasons = append(reasons, fmt.Sprintf("automated interaction limit reached (%d)", state.AIInteractionCount))
		limitReached = true
	}
	if r.LowConfidenceThreshold > 0 && in.HasRetrieval && in.RetrievalConfidence < r.LowConfidenceThreshold {
		reasons = append(reasons, fmt.Sprintf("knowledge confidence %.2f below %.2f", in.RetrievalConfidence, r.LowConfidenceThreshold))
	}
	if len(reasons) == 0 && state.EscalationRequired {
		reasons = append(reasons, "escalation pending delivery")
	}

	if len(reasons) == 0 {
		return model.EscalationDecision{
			Priority: types.EscalationPriorityNormal,
			Reason:   "collecting information",
			Stage:    types.StageCollecting,
		}
	}

	return model.EscalationDecision{
		ShouldEscalate: true,
		Priority:       priorityOf(urgency, in.EscalationRequested, limitReached),
		Reason:         strings.Join(reasons, "; "),
		Stage:          types.StageReadyToEscalate,
	}
}

func priorityOf(urgency types.Urgency, requested, limitReached bool) types.EscalationPriority {
	switch {
	case urgency == types.UrgencyHigh:
		return types.EscalationPriorityUrgent
	case requested:
		return types.EscalationPriorityHigh
	case urgency == types.UrgencyMedium, limitReached:
		return types.EscalationPriorityMedium
	default:
		return types.EscalationPriorityNormal
	}
}
