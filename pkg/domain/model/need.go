package model

import "github.com/secmon-lab/hermes/pkg/domain/types"

// ExtractedNeed is a customer need detected in a conversation. A fresh,
// ordered set is produced on every analysis pass.
type ExtractedNeed struct {
	Type          types.NeedType `json:"type"`
	Evidence      string         `json:"evidence"`
	Confidence    float64        `json:"confidence"`
	Priority      types.Priority `json:"priority"`
	PriorityScore float64        `json:"priority_score"`
	Suggestion    string         `json:"suggestion"`
}

// SentimentSignal is a sentiment detected in a single customer turn
type SentimentSignal struct {
	MessageIndex int             `json:"message_index"`
	Sentiment    types.Sentiment `json:"sentiment"`
	Keyword      string          `json:"keyword"`
}

// Analysis is the combined output of needs and sentiment extraction
type Analysis struct {
	Needs              []ExtractedNeed   `json:"needs"`
	Sentiment          types.Sentiment   `json:"sentiment"`
	Signals            []SentimentSignal `json:"signals"`
	Urgency            types.Urgency     `json:"urgency"`
	Priority           types.Priority    `json:"priority"`
	PriorityBoost      float64           `json:"priority_boost"`
	EscalationRequired bool              `json:"escalation_required"`
	RuleSetVersion     string            `json:"rule_set_version,omitempty"`
}

// DefaultAnalysis is the safe value used when analysis output cannot be trusted
func DefaultAnalysis() Analysis {
	return Analysis{
		Needs:     []ExtractedNeed{},
		Sentiment: types.SentimentNeutral,
		Urgency:   types.UrgencyLow,
		Priority:  types.PriorityLow,
	}
}

// TopNeed returns the highest ranked need or nil
func (x Analysis) TopNeed() *ExtractedNeed {
	if len(x.Needs) == 0 {
		return nil
	}
	return &x.Needs[0]
}
